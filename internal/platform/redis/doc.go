// Package redis fronts a task store with a redis cache for status lookups.
package redis
