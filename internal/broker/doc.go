// Package broker owns the Redis client used by every jobstream component.
//
// It is a thin lifecycle wrapper: open with verification, expose the client,
// close once. Components take the *redis.Client directly so the full command
// surface stays available without re-wrapping.
package broker
