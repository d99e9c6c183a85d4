// Package ratelimit decides, per inbound operation, whether it is allowed,
// challenged or rejected.
//
// An Engine wraps one Limiter and the adapter's Hooks. Each call to Evaluate
// walks the same fixed sequence: filter, check, then on a limited check either
// a passed challenge (which resets the limiter state for the subject) or a
// rejection, and finally the continuation. Two limiters are provided:
//
//   - CounterLimiter: ordered fixed windows over a store.Store, usually a
//     store.Coordinator that fails over from Redis (or SQL) to process memory.
//   - TokenBucketLimiter: one global bucket with warm-up and a bounded wait.
//
// Adapters for net/http, gin and gRPC live in
// internal/infrastructure/middleware/ratelimit.
package ratelimit
