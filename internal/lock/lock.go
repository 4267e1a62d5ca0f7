// Package lock provides per-key mutual exclusion for serializing discussion
// appends to a single kollab.
package lock

import "context"

// KeyLock serializes critical sections per key. Acquire blocks until the key
// is free or ctx is done; the returned release function must be called once.
type KeyLock interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
