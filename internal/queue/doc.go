// Package queue implements the asynchronous job queue.
//
// # Overview
//
// Jobs are JSON envelopes pushed onto per-module, per-priority Redis lists.
// A queue registry set records every list that has ever received work, so
// consumers discover queues without configuration. Consumers scan the
// registry in priority order (high, normal, low), claim the head job with
// LPOP, and execute it through a typed processor registry. Failed attempts
// are rescheduled by pushing the envelope back to the head of its queue with
// a future next_retry_time; consumers skip queues whose head is not yet due,
// which keeps delayed retries from blocking the scan.
//
// Each operation also maintains a status hash with a sliding TTL so clients
// can poll progress after the producer call returns.
package queue
