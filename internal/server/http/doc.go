// Package httpserver exposes the queue and stream surfaces over HTTP.
//
// Enqueue, status and purge are plain JSON endpoints; stream subscription
// is served as SSE, gated by the per-user stream lease limiter.
package httpserver
