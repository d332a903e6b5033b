package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"onboarder/internal/employee"
)

func TestMemoryDelivery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := NewMemory()
	msg := Message{
		UserEmail:    "jane.doe@corp.example.com",
		TicketKey:    "HR-1",
		EmployeeData: employee.Record{FullName: "Jane Doe"},
		RetryCount:   1,
	}
	require.NoError(t, m.Publish(ctx, msg, 10*time.Millisecond))

	got := make(chan Message, 1)
	go func() {
		_ = m.Consume(ctx, func(_ context.Context, msg Message) error {
			got <- msg
			cancel()
			return nil
		})
	}()

	select {
	case delivered := <-got:
		assert.Equal(t, "jane.doe@corp.example.com", delivered.UserEmail)
		assert.Equal(t, 1, delivered.RetryCount)
		assert.False(t, delivered.NotBefore.Before(delivered.ScheduledTime))
	case <-ctx.Done():
		t.Fatal("message never delivered")
	}
}

func TestMemoryRedelivery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := NewMemory()
	require.NoError(t, m.Publish(ctx, Message{UserEmail: "a@example.com"}, 0))

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = m.Consume(ctx, func(_ context.Context, _ Message) error {
			if calls.Add(1) == 1 {
				return assert.AnError
			}
			close(done)
			cancel()
			return nil
		})
	}()

	select {
	case <-done:
		assert.Equal(t, int32(2), calls.Load())
	case <-ctx.Done():
		t.Fatal("message never redelivered")
	}
}

func testRecord(t *testing.T, partition int32, offset int64, email string) *kgo.Record {
	t.Helper()
	value, err := json.Marshal(Message{UserEmail: email})
	require.NoError(t, err)
	return &kgo.Record{Topic: "onboarding-phase-two", Partition: partition, Offset: offset, Value: value}
}

func TestDeliverRecordsStopsPartitionOnHandlerError(t *testing.T) {
	records := []*kgo.Record{
		testRecord(t, 0, 10, "a@corp.example.com"),
		testRecord(t, 0, 11, "b@corp.example.com"),
		testRecord(t, 0, 12, "c@corp.example.com"),
		testRecord(t, 1, 7, "d@corp.example.com"),
	}

	var handled, committed []string
	var rewound []int64
	handle := func(_ context.Context, msg Message) error {
		handled = append(handled, msg.UserEmail)
		if msg.UserEmail == "b@corp.example.com" {
			return fmt.Errorf("directory unavailable")
		}
		return nil
	}
	commit := func(_ context.Context, r *kgo.Record) error {
		committed = append(committed, fmt.Sprintf("%d/%d", r.Partition, r.Offset))
		return nil
	}
	rewind := func(r *kgo.Record) { rewound = append(rewound, r.Offset) }

	err := deliverRecords(context.Background(), slog.New(slog.DiscardHandler), records, handle, commit, rewind)
	require.NoError(t, err)

	// The failure at offset 11 rewinds partition 0 and keeps offset 12 from
	// being handled or committed; partition 1 is unaffected.
	assert.Equal(t, []string{"a@corp.example.com", "b@corp.example.com", "d@corp.example.com"}, handled)
	assert.Equal(t, []string{"0/10", "1/7"}, committed)
	assert.Equal(t, []int64{11}, rewound)
}

func TestDeliverRecordsCommitsUndecodableAway(t *testing.T) {
	records := []*kgo.Record{
		{Topic: "onboarding-phase-two", Partition: 0, Offset: 3, Value: []byte("{not json")},
		testRecord(t, 0, 4, "a@corp.example.com"),
	}

	var handled []string
	var committed []int64
	rewinds := 0
	err := deliverRecords(context.Background(), slog.New(slog.DiscardHandler), records,
		func(_ context.Context, msg Message) error {
			handled = append(handled, msg.UserEmail)
			return nil
		},
		func(_ context.Context, r *kgo.Record) error {
			committed = append(committed, r.Offset)
			return nil
		},
		func(*kgo.Record) { rewinds++ },
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"a@corp.example.com"}, handled)
	assert.Equal(t, []int64{3, 4}, committed)
	assert.Zero(t, rewinds)
}

func TestWaitUntil(t *testing.T) {
	ctx := context.Background()

	t.Run("past deadlines return immediately", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, waitUntil(ctx, start.Add(-time.Hour)))
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("waits out a future deadline", func(t *testing.T) {
		start := time.Now()
		require.NoError(t, waitUntil(ctx, start.Add(20*time.Millisecond)))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("cancellation interrupts the wait", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		err := waitUntil(cancelled, time.Now().Add(time.Hour))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
