// Package syncqueue persists write requests that failed while offline and
// replays them in enqueue order once connectivity returns.
//
// Tasks live in a bbolt database so they survive restarts. A drain replays
// every pending task once; at most one drain runs at a time, and a trigger
// that arrives while a drain is in flight is dropped instead of queued.
// Tasks that exhaust their retry budget, or that the backend rejects
// outright, are kept in the failed state until an operator retries or
// discards them.
package syncqueue
