// Package id provides compact identifiers for stream events.
//
// Two flavors are offered: NewRandom for unguessable handles, and Generator
// for per-process monotonic ids whose byte order matches their creation
// order (event ids, mirror keys). Operation and lease ids use UUIDs in
// their own packages; these ids are cheaper and sortable.
package id
