// Package cache implements an in-process key/value cache with a capacity
// bound, least recently used eviction and per-entry TTL.
//
// Expired entries are removed by a timer armed on Set and, independently,
// when they are read. The state of a cache can be written to a string with
// Serialize and restored with Deserialize.
package cache
