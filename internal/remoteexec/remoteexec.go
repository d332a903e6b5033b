// Package remoteexec runs provisioning scripts on managed hosts through an
// asynchronous command API: submit, then poll the invocation until it
// finishes or the attempt budget runs out.
package remoteexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dErrors "onboarder/pkg/domain-errors"
	"onboarder/pkg/platform/sentinel"
)

// Invocation statuses reported by the command API.
const (
	StatusPending    = "Pending"
	StatusInProgress = "InProgress"
	StatusSuccess    = "Success"
	StatusFailed     = "Failed"
	StatusCancelled  = "Cancelled"
	StatusTimedOut   = "TimedOut"
)

// Invocation is one command's state on one host.
type Invocation struct {
	Status string
	StdOut string
	StdErr string
}

// CommandAPI is the asynchronous execution surface. Invocation returns
// sentinel.ErrNotFound while the command has been accepted but not yet
// registered against the host; the runner keeps polling through that.
type CommandAPI interface {
	Submit(ctx context.Context, hostID, script string) (commandID string, err error)
	Invocation(ctx context.Context, commandID, hostID string) (Invocation, error)
}

// Executor is what the provisioning services depend on.
type Executor interface {
	Execute(ctx context.Context, hostID, script string) (string, error)
}

const (
	defaultPollInterval = 2 * time.Second
	defaultMaxAttempts  = 30
)

// Runner polls a CommandAPI until the submitted command completes.
type Runner struct {
	api          CommandAPI
	logger       *slog.Logger
	pollInterval time.Duration
	maxAttempts  int
}

type RunnerOption func(*Runner)

func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.pollInterval = d }
}

func WithMaxAttempts(n int) RunnerOption {
	return func(r *Runner) { r.maxAttempts = n }
}

func NewRunner(api CommandAPI, logger *slog.Logger, opts ...RunnerOption) (*Runner, error) {
	if api == nil {
		return nil, fmt.Errorf("command api is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	r := &Runner{
		api:          api,
		logger:       logger,
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Execute submits the script and blocks until the invocation reaches a
// terminal status. On success it returns the command's standard output; a
// failed invocation surfaces its standard error.
func (r *Runner) Execute(ctx context.Context, hostID, script string) (string, error) {
	commandID, err := r.api.Submit(ctx, hostID, script)
	if err != nil {
		return "", fmt.Errorf("submit command to %s: %w", hostID, err)
	}
	r.logger.InfoContext(ctx, "command submitted", "host_id", hostID, "command_id", commandID)

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.pollInterval):
		}

		inv, err := r.api.Invocation(ctx, commandID, hostID)
		if errors.Is(err, sentinel.ErrNotFound) {
			r.logger.DebugContext(ctx, "command not yet registered",
				"command_id", commandID, "attempt", attempt, "max_attempts", r.maxAttempts)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("poll command %s: %w", commandID, err)
		}

		switch inv.Status {
		case StatusSuccess:
			return inv.StdOut, nil
		case StatusFailed, StatusCancelled, StatusTimedOut:
			detail := inv.StdErr
			if detail == "" {
				detail = "no error details available"
			}
			r.logger.ErrorContext(ctx, "command failed",
				"command_id", commandID, "status", inv.Status, "stdout", inv.StdOut)
			return "", dErrors.Newf(dErrors.CodeUnavailable, "command %s on %s: %s", inv.Status, hostID, detail)
		}
	}

	return "", dErrors.Newf(dErrors.CodeUnavailable, "command %s did not complete after %d attempts", commandID, r.maxAttempts)
}
