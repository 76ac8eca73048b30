package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Fanout dispatches events to all configured notifiers.
type Fanout struct {
	notifiers []Notifier
}

// NewFanout builds a dispatcher that fans out events across notifiers.
func NewFanout(notifiers []Notifier) *Fanout {
	cp := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		cp = append(cp, n)
	}
	return &Fanout{notifiers: cp}
}

// Notify forwards the event to every registered notifier.
// It returns the number of notifiers that successfully handled the event.
func (f *Fanout) Notify(ctx context.Context, evt Event) (int, error) {
	if f == nil || len(f.notifiers) == 0 {
		return 0, nil
	}

	var errs []error
	successful := 0
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s notifier[%s]: %w", n.Type(), n.ID(), err))
		} else {
			successful++
		}
	}
	return successful, errors.Join(errs...)
}

// Size returns the number of active notifiers.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.notifiers)
}

// filtered wraps a notifier with an event subscription list.
type filtered struct {
	Notifier
	events []string
}

// WithEventFilter limits a notifier to the named events. An empty list
// returns the notifier unchanged.
func WithEventFilter(n Notifier, events []string) Notifier {
	if n == nil || len(events) == 0 {
		return n
	}
	cp := make([]string, 0, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(strings.ToLower(e)); e != "" {
			cp = append(cp, e)
		}
	}
	if len(cp) == 0 {
		return n
	}
	return &filtered{Notifier: n, events: cp}
}

func (f *filtered) Notify(ctx context.Context, evt Event) error {
	name := strings.ToLower(strings.TrimSpace(evt.Name))
	for _, e := range f.events {
		if e == name {
			return f.Notifier.Notify(ctx, evt)
		}
	}
	return nil
}
