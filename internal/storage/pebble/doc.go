// Package pebble wraps a Pebble key-value store behind a small interface
// used for the durable stream-event mirror.
package pebble
