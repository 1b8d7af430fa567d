// Package fetch defines the request/response values that flow through the
// interception pipeline. Requests carry the browser-facing URL (the cache key
// source) and responses are fully buffered snapshots, so a body can be handed
// to the caller and copied into a cache partition without the single-read
// stream constraints of net/http bodies.
package fetch
