// Package notify delivers suspension and unlock notices to operators and
// tenants. Delivery failures are returned to the caller, which logs them;
// they never change an enforcement outcome.
package notify

import (
	"context"
	"errors"

	"github.com/ignite/abuse-guard/internal/domain"
	"github.com/ignite/abuse-guard/internal/service/abuse"
)

var (
	_ abuse.Notifier = Nop{}
	_ abuse.Notifier = Multi(nil)
	_ abuse.Notifier = (*SESNotifier)(nil)
	_ abuse.Notifier = (*WebhookNotifier)(nil)
)

// Nop drops every notice.
type Nop struct{}

func (Nop) Notify(ctx context.Context, n domain.SuspensionNotice) error { return nil }

// Multi sends each notice to every notifier and joins their errors. One
// failing channel does not stop the others.
type Multi []abuse.Notifier

func (m Multi) Notify(ctx context.Context, n domain.SuspensionNotice) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
