// Package metrics maintains lightweight in-process counters and running
// averages for queue and stream activity, with a built-in decision on
// whether an update is worth logging.
package metrics
