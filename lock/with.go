package lock

import "context"

// WithLock acquires l, runs fn, and always releases l afterward, even if fn
// panics or returns an error. The lock's own Unlock error is only reported
// when fn itself succeeded, so a failure inside fn is never masked.
func WithLock(ctx context.Context, l Locker, fn func() error) (err error) {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if uerr := l.Unlock(ctx); err == nil {
			err = uerr
		}
	}()

	return fn()
}
