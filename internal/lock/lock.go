// Package lock provides per-key mutual exclusion for item state changes.
package lock

import "context"

// Locker grants exclusive ownership of a key. Lock blocks until the key is
// free or ctx is done, in which case it returns ctx.Err(). The returned
// release func is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// ItemKey is the lock key shared by every write to one item.
func ItemKey(code string) string {
	return "item:" + code
}
