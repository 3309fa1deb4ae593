// Package streaming implements stream leases and pub/sub event channels.
//
// # Overview
//
// A stream is a short-lived event channel tied to one operation: a worker
// publishes log, progress, data, error and done events over Redis pub/sub
// while a client subscribes and relays them, typically as SSE. Admission is
// controlled by per-user leases stored in a sorted set scored by expiry;
// leases self-heal through TTL so a crashed holder never wedges its user's
// quota. The done event is the sole terminal event: a publishing context
// refuses further emissions once completed, and a subscriber that sees done
// (or goes idle too long) ends exactly once.
package streaming
