package dispatch

import "context"

// Notifier receives a subset of updates out of band.
type Notifier interface {
	Notify(ctx context.Context, v any) error
}

// Forward broadcasts every value from updates until the channel closes or
// ctx ends. Values accepted by notify are also sent to n.
func Forward[T any](ctx context.Context, h *Hub, updates <-chan T, n Notifier, notify func(T) bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			h.Broadcast(u)
			if n != nil && notify != nil && notify(u) {
				if err := n.Notify(ctx, u); err != nil {
					h.logger.Warn("webhook notify failed", "error", err)
				}
			}
		}
	}
}
