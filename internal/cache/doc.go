// Package cache provides a small generic TTL cache with a size bound.
package cache
