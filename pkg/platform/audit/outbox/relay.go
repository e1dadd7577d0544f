// Package outbox relays committed audit events from the outbox to Kafka.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "storefront/pkg/platform/audit"
)

// Producer is the subset of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Relay polls the outbox and produces pending entries, keyed by session so a
// session's events stay ordered within a partition.
type Relay struct {
	source    audit.Outbox
	producer  Producer
	topic     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func New(source audit.Outbox, producer Producer, topic string, opts ...Option) (*Relay, error) {
	if source == nil {
		return nil, errors.New("outbox source is required")
	}
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	r := &Relay{
		source:    source,
		producer:  producer,
		topic:     topic,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce produces one batch and marks the delivered entries. Entries whose
// produce failed stay pending and are retried on the next pass.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	entries, err := r.source.FetchPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	records := make([]*kgo.Record, len(entries))
	for i, e := range entries {
		records[i] = &kgo.Record{
			Topic: r.topic,
			Key:   []byte(e.Key),
			Value: e.Payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(e.Type)},
				{Key: "event_id", Value: []byte(e.ID.String())},
			},
			Timestamp: e.CreatedAt,
		}
	}

	results := r.producer.ProduceSync(ctx, records...)
	delivered := make([]uuid.UUID, 0, len(entries))
	var produceErr error
	for i, res := range results {
		if res.Err != nil {
			produceErr = errors.Join(produceErr, res.Err)
			continue
		}
		delivered = append(delivered, entries[i].ID)
	}

	if err := r.source.MarkPublished(ctx, delivered); err != nil {
		return 0, err
	}
	if produceErr != nil {
		r.logger.WarnContext(ctx, "some outbox entries were not produced",
			"delivered", len(delivered),
			"pending", len(entries)-len(delivered),
			"error", produceErr,
		)
	}
	return len(delivered), nil
}
