// Package ratelimit provides a token-bucket rate limiter scoped per category
// key, with either reject-on-exhaustion or queue-until-available behavior.
//
// Grounded on catrate.Limiter's concurrency shape (sync.Map-keyed categories
// and an atomically-started-once background cleanup worker; buckets are
// allocated directly, without a sync.Pool) but replaces its sliding-window/ring-buffer algorithm with
// continuous token-bucket refill.
package ratelimit
