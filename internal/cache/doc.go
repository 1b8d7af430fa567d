// Package cache implements the versioned cache partitions that back the fetch
// strategies. Each partition is a directory under <StoragePath>/partitions/
// whose name embeds the cache version (for example dentalnet-v1.0.0 and
// dentalnet-api-v1.0.0). Entries map a normalized request key to an immutable
// response snapshot and are written with temp file + rename so concurrent
// readers never observe partial entries. Concurrent writers of the same key
// are serialized per entry and the last write wins.
//
// Entries carry no TTL; the only invalidation mechanism is evicting whole
// partitions whose names do not belong to the current version.
package cache
