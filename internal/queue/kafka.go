package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"onboarder/internal/platform/config"
)

// Kafka is the broker-backed publisher and consumer. Delivery-time deferral
// happens consumer-side: a due check before the handler, since the broker
// itself delivers immediately.
type Kafka struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafka connects to the brokers and makes sure the topic exists.
func NewKafka(ctx context.Context, cfg config.Queue, logger *slog.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no topic configured")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to brokers: %w", err)
	}

	k := &Kafka{client: client, topic: cfg.Topic, logger: logger}
	if err := k.ensureTopic(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return k, nil
}

func (k *Kafka) ensureTopic(ctx context.Context) error {
	admin := kadm.NewClient(k.client)
	resp, err := admin.CreateTopics(ctx, 3, -1, nil, k.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", k.topic, err)
	}
	for _, res := range resp {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", res.Topic, res.Err)
		}
	}
	return nil
}

// Publish stamps the message's schedule and produces it keyed by the user
// email so one employee's runs stay ordered.
func (k *Kafka) Publish(ctx context.Context, msg Message, delay time.Duration) error {
	now := time.Now().UTC()
	msg.ScheduledTime = now
	msg.NotBefore = now.Add(delay)

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(msg.UserEmail),
		Value: value,
	}
	if err := k.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", k.topic, err)
	}
	k.logger.InfoContext(ctx, "deferred message published",
		"topic", k.topic, "user_email", msg.UserEmail, "retry_count", msg.RetryCount, "not_before", msg.NotBefore)
	return nil
}

// Consume polls the topic and hands due messages to the handler. Records
// commit only after the handler returns nil; a handler error rewinds the
// partition to the failed record so no later offset on it commits first.
// Undecodable records are committed away with a log line.
func (k *Kafka) Consume(ctx context.Context, handle Handler) error {
	for {
		fetches := k.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			k.logger.ErrorContext(ctx, "fetch error", "topic", topic, "partition", partition, "error", err)
		})

		if err := deliverRecords(ctx, k.logger, fetches.Records(), handle, k.commitRecord, k.rewindTo); err != nil {
			return err
		}
	}
}

// deliverRecords walks one poll's records in order. The first handler error
// on a partition rewinds it to the failed record and skips the partition's
// remaining records, so the failed message and everything behind it come
// back on the next poll. Other partitions keep going.
func deliverRecords(ctx context.Context, logger *slog.Logger, records []*kgo.Record, handle Handler,
	commit func(context.Context, *kgo.Record) error, rewind func(*kgo.Record)) error {
	failed := make(map[int32]bool)
	for _, record := range records {
		if failed[record.Partition] {
			continue
		}

		var msg Message
		if err := json.Unmarshal(record.Value, &msg); err != nil {
			logger.ErrorContext(ctx, "dropping undecodable message", "topic", record.Topic, "offset", record.Offset, "error", err)
			if err := commit(ctx, record); err != nil {
				return fmt.Errorf("commit poisoned record: %w", err)
			}
			continue
		}

		if err := waitUntil(ctx, msg.NotBefore); err != nil {
			return err
		}
		if err := handle(ctx, msg); err != nil {
			logger.ErrorContext(ctx, "handler failed, rewinding partition for redelivery",
				"user_email", msg.UserEmail, "retry_count", msg.RetryCount,
				"partition", record.Partition, "offset", record.Offset, "error", err)
			rewind(record)
			failed[record.Partition] = true
			continue
		}
		if err := commit(ctx, record); err != nil {
			return fmt.Errorf("commit record: %w", err)
		}
	}
	return nil
}

func (k *Kafka) commitRecord(ctx context.Context, record *kgo.Record) error {
	return k.client.CommitRecords(ctx, record)
}

// rewindTo moves consumption back to the failed record so the next poll
// redelivers it and everything after it on that partition.
func (k *Kafka) rewindTo(record *kgo.Record) {
	k.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		record.Topic: {record.Partition: {Epoch: record.LeaderEpoch, Offset: record.Offset}},
	})
}

func (k *Kafka) Close() {
	k.client.Close()
}

func waitUntil(ctx context.Context, t time.Time) error {
	wait := time.Until(t)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
