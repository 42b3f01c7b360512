// Package ingest consumes the external access-log aggregate feed from Kafka
// and accumulates it into the store. It is the only writer of
// AccessLogAggregate rows; the rest of the service treats the feed as
// read-only input for discovery.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"sitestats/internal/platform/config"
	"sitestats/internal/sites/models"
	"sitestats/internal/sites/store"
)

// accessLogRecord is the wire format of one feed message.
type accessLogRecord struct {
	Domain      string `json:"domain"`
	AccessDate  string `json:"access_date"`
	AccessCount int64  `json:"access_count"`
}

// Consumer reads the aggregate feed as part of a consumer group.
type Consumer struct {
	client *kgo.Client
	store  store.AccessLogStore
	logger *slog.Logger
}

// New connects the consumer group. Returns nil when no brokers are
// configured (ingest disabled).
func New(cfg config.KafkaConfig, st store.AccessLogStore, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumerGroup(cfg.Group),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Consumer{client: client, store: st, logger: logger}, nil
}

// Run polls until ctx is cancelled or the client is closed. Malformed
// records are logged and skipped; a wedged feed must not block ingest of the
// rest.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "access log fetch error",
				"topic", topic,
				"partition", partition,
				"error", err.Error(),
			)
		})

		fetches.EachRecord(func(rec *kgo.Record) {
			if err := c.apply(ctx, rec.Value); err != nil {
				c.logger.WarnContext(ctx, "access log record skipped",
					"offset", rec.Offset,
					"error", err.Error(),
				)
			}
		})
	}
}

// apply decodes one feed message and sums it into the aggregate table.
func (c *Consumer) apply(ctx context.Context, raw []byte) error {
	var rec accessLogRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("decode access log record: %w", err)
	}
	if rec.Domain == "" {
		return fmt.Errorf("access log record without domain")
	}
	date, err := time.Parse("2006-01-02", rec.AccessDate)
	if err != nil {
		return fmt.Errorf("access log record date %q: %w", rec.AccessDate, err)
	}
	if rec.AccessCount < 0 {
		return fmt.Errorf("access log record with negative count")
	}

	return c.store.AddAccessLog(ctx, models.AccessLogAggregate{
		Domain:      rec.Domain,
		AccessDate:  date,
		AccessCount: rec.AccessCount,
	})
}

// Close tears down the Kafka client, committing outstanding offsets.
func (c *Consumer) Close() {
	c.client.Close()
}
