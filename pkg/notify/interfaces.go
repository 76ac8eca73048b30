package notify

import "context"

// Notifier sends lifecycle events to a downstream sink (SNS, Pub/Sub, HTTP).
type Notifier interface {
	ID() string
	Type() string
	Notify(ctx context.Context, evt Event) error
}
