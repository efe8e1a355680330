// Package notifier provides the best-effort notification sink invoked by
// the Rule Lifecycle after create/update mutations.
package notifier

import (
	"context"

	"github.com/r3e-labs/brm-core/pkg/logger"
)

// Notifier is a one-method sink for best-effort user notification. A
// real email/Slack/webhook sender is an external collaborator wired in
// by the deployment behind this same interface.
type Notifier interface {
	Notify(ctx context.Context, subject, body string, recipients []string) error
}

// LogNotifier is the default Notifier: it only logs, so the engine runs
// standalone without any external notification dependency configured.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify implements Notifier by logging the notification at info level.
func (n *LogNotifier) Notify(ctx context.Context, subject, body string, recipients []string) error {
	n.log.WithContext(ctx).WithFields(map[string]interface{}{
		"subject":    subject,
		"recipients": recipients,
	}).Info(body)
	return nil
}
