// Package queue carries deferred onboarding work: phase-two messages that
// must not run before their scheduled time. The broker has no native delay,
// so every message carries its own not-before timestamp and consumers hold
// delivery until it passes.
package queue

import (
	"context"
	"time"

	"onboarder/internal/employee"
)

// Message is one deferred phase-two run.
type Message struct {
	UserEmail            string          `json:"user_email"`
	TicketKey            string          `json:"ticket_key"`
	EmployeeData         employee.Record `json:"employee_data"`
	SourceUserIdentifier string          `json:"source_user_identifier,omitempty"`
	RetryCount           int             `json:"retry_count"`
	ScheduledTime        time.Time       `json:"scheduled_time"`
	NotBefore            time.Time       `json:"not_before"`
}

// Publisher schedules a message for delivery no earlier than delay from now.
type Publisher interface {
	Publish(ctx context.Context, msg Message, delay time.Duration) error
}

// Handler processes one due message. A non-nil error leaves the message
// uncommitted for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Consumer delivers due messages to a handler until the context ends.
type Consumer interface {
	Consume(ctx context.Context, handle Handler) error
}
