// Package notify provides composable channel middleware for filtering
// an endpoint's notification stream. Consumers wrap
// Endpoint.Notifications() with these functions to select the
// granularity they need.
package notify

import (
	"context"

	"github.com/dmora/acpeer"
)

// Filter returns a channel that only passes notifications with one of
// the given methods. Spawns a goroutine that exits when ctx is
// cancelled or ch is closed. The returned channel is closed when the
// goroutine exits.
func Filter(ctx context.Context, ch <-chan acpeer.Notification, methods ...string) <-chan acpeer.Notification {
	allowed := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		allowed[m] = struct{}{}
	}
	return pipe(ctx, ch, func(n acpeer.Notification) bool {
		_, ok := allowed[n.Method]
		return ok
	})
}

// Updates returns a channel that passes only session/update
// notifications. Spawns a goroutine that exits when ctx is cancelled
// or ch is closed.
func Updates(ctx context.Context, ch <-chan acpeer.Notification) <-chan acpeer.Notification {
	return Filter(ctx, ch, acpeer.MethodSessionUpdate)
}

// Match returns a channel that passes notifications accepted by the
// predicate. Spawns a goroutine that exits when ctx is cancelled or ch
// is closed.
func Match(ctx context.Context, ch <-chan acpeer.Notification, accept func(acpeer.Notification) bool) <-chan acpeer.Notification {
	return pipe(ctx, ch, accept)
}

// pipe spawns a goroutine that reads from ch, passes notifications
// matching the predicate to the returned channel, and closes it when
// ch closes or ctx is cancelled. Callers must either drain the
// returned channel or cancel ctx to avoid goroutine leaks.
func pipe(ctx context.Context, ch <-chan acpeer.Notification, accept func(acpeer.Notification) bool) <-chan acpeer.Notification {
	out := make(chan acpeer.Notification)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-ch:
				if !ok {
					return
				}
				if accept(n) && !trySend(ctx, out, n) {
					return
				}
			}
		}
	}()
	return out
}

// trySend sends n on out, returning true on success. Returns false if
// ctx is cancelled before the send completes.
func trySend(ctx context.Context, out chan<- acpeer.Notification, n acpeer.Notification) bool {
	select {
	case out <- n:
		return true
	case <-ctx.Done():
		return false
	}
}
