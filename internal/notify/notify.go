// Package notify delivers operator alerts for onboarding failures.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Notifier publishes an error notification for a run. Implementations fan
// out to whatever alerting channel the deployment uses.
type Notifier interface {
	NotifyError(ctx context.Context, ticketKey, message string) error
}

// LogNotifier writes notifications to the structured log. It is the default
// sink and the fallback when no alerting channel is configured.
type LogNotifier struct {
	logger      *slog.Logger
	destination string
}

func NewLogNotifier(logger *slog.Logger, destination string) (*LogNotifier, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	return &LogNotifier{logger: logger, destination: destination}, nil
}

func (n *LogNotifier) NotifyError(ctx context.Context, ticketKey, message string) error {
	subject := fmt.Sprintf("Onboarding Error - Ticket %s", ticketKey)
	n.logger.ErrorContext(ctx, "onboarding error notification",
		"subject", subject,
		"destination", n.destination,
		"ticket", ticketKey,
		"message", message,
		"time", time.Now().Format(time.RFC3339),
	)
	return nil
}
