package queue

import (
	"context"
	"time"
)

// Memory is an in-process queue used in tests and in deployments that run
// without a broker. Messages surface on an internal channel once due.
type Memory struct {
	ch chan Message
}

func NewMemory() *Memory {
	return &Memory{ch: make(chan Message, 128)}
}

func (m *Memory) Publish(_ context.Context, msg Message, delay time.Duration) error {
	now := time.Now().UTC()
	msg.ScheduledTime = now
	msg.NotBefore = now.Add(delay)

	time.AfterFunc(delay, func() { m.ch <- msg })
	return nil
}

func (m *Memory) Consume(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-m.ch:
			if err := handle(ctx, msg); err != nil {
				// Redeliver the way the broker would.
				m.ch <- msg
			}
		}
	}
}
