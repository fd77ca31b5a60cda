package notify

import (
	"context"
	"errors"

	"rollcall/internal/types"
)

// Multi fans a message out to every notifier, in order. One failing
// notifier does not prevent delivery to the others.
type Multi []types.Notifier

var _ types.Notifier = Multi(nil)

// Notify delivers message to every notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop discards messages. It is used when no notification channel is
// configured.
type Noop struct{}

func (Noop) Notify(context.Context, string) error { return nil }

// Combine returns the notifier delivering to all non-nil notifiers: Noop
// when there are none, the notifier itself when there is one.
func Combine(notifiers ...types.Notifier) types.Notifier {
	var out Multi
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	switch len(out) {
	case 0:
		return Noop{}
	case 1:
		return out[0]
	default:
		return out
	}
}
