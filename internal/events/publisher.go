package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/grocery-tracker/internal/models"
	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeProductObserved is published once per extracted product page.
	EventTypeProductObserved EventType = "PRODUCT_OBSERVED"
	// EventTypeDiagnosticCompleted is published after a diagnostic run.
	EventTypeDiagnosticCompleted EventType = "DIAGNOSTIC_COMPLETED"

	DefaultStream = "stream:grocery_observations"
	source        = "grocery-tracker"
)

// Event is the envelope written to the stream's data field.
type Event struct {
	EventID   string          `json:"event_id"`
	EventType EventType       `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// Emitter receives extraction and diagnostic results.
type Emitter interface {
	EmitProduct(ctx context.Context, record models.ProductRecord) error
	EmitDiagnostic(ctx context.Context, report *models.DiagnosticReport) error
	Close() error
}

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

type StreamConfig struct {
	Stream string
	// MaxLen caps the stream approximately; zero leaves it unbounded.
	MaxLen int64
}

// StreamPublisher appends results to a Redis stream.
type StreamPublisher struct {
	redis  RedisClient
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewStreamPublisher(client RedisClient, config StreamConfig, logger *slog.Logger) *StreamPublisher {
	if config.Stream == "" {
		config.Stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamPublisher{
		redis:  client,
		stream: config.Stream,
		maxLen: config.MaxLen,
		logger: logger.With("component", "event_publisher"),
	}
}

// NewRedisClient connects using a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewEmitter publishes to the stream at url, or only logs when url is empty.
func NewEmitter(ctx context.Context, url string, config StreamConfig, logger *slog.Logger) (Emitter, error) {
	if url == "" {
		return NewLogEmitter(logger), nil
	}

	client, err := NewRedisClient(url)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewStreamPublisher(client, config, logger), nil
}

func (p *StreamPublisher) EmitProduct(ctx context.Context, record models.ProductRecord) error {
	return p.publish(ctx, EventTypeProductObserved, record.Vendor, record.URL, record)
}

func (p *StreamPublisher) EmitDiagnostic(ctx context.Context, report *models.DiagnosticReport) error {
	if report == nil {
		return nil
	}
	return p.publish(ctx, EventTypeDiagnosticCompleted, "diagnostics", "", report)
}

func (p *StreamPublisher) publish(ctx context.Context, eventType EventType, vendor, aggregateID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := Event{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Payload:   data,
	}
	dataJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"data":         string(dataJSON),
			"event_id":     event.EventID,
			"event_type":   string(eventType),
			"vendor":       vendor,
			"aggregate_id": aggregateID,
			"timestamp":    fmt.Sprintf("%d", event.Timestamp.UnixNano()),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.redis.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	p.logger.Info("event published",
		"type", eventType,
		"event_id", event.EventID,
		"stream", p.stream,
		"stream_id", id)
	return nil
}

func (p *StreamPublisher) Close() error {
	return p.redis.Close()
}

// LogEmitter writes results to the log only; used when no stream is
// configured.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger.With("component", "result_log")}
}

func (l *LogEmitter) EmitProduct(_ context.Context, record models.ProductRecord) error {
	attrs := []any{
		"vendor", record.Vendor,
		"url", record.URL,
		"name", record.Name,
		"sku", record.SKU,
		"location", record.Location.String(),
		"location_committed", record.LocationCommitted,
	}
	if record.Price != nil {
		attrs = append(attrs, "price", *record.Price)
	}
	if record.Availability != nil {
		attrs = append(attrs, "availability", *record.Availability)
	}
	l.logger.Info("product observed", attrs...)
	return nil
}

func (l *LogEmitter) EmitDiagnostic(_ context.Context, report *models.DiagnosticReport) error {
	if report == nil {
		return nil
	}
	attrs := []any{"ran_at", report.RanAt}
	if report.Webdriver != nil {
		attrs = append(attrs, "webdriver", *report.Webdriver)
	}
	if report.Fingerprint != nil && report.Fingerprint.Value != nil {
		attrs = append(attrs, "bot_risk_score", *report.Fingerprint.Value)
	}
	if report.Entropy != nil {
		attrs = append(attrs,
			"one_in", report.Entropy.OverallUniquenessOdds,
			"overall_measured", report.Entropy.OverallMeasured)
	}
	l.logger.Info("diagnostics completed", attrs...)
	return nil
}

func (l *LogEmitter) Close() error {
	return nil
}

var (
	_ Emitter = (*StreamPublisher)(nil)
	_ Emitter = (*LogEmitter)(nil)
)

// Fanout forwards every result to each emitter in order. All emitters are
// tried; their errors are joined.
type Fanout []Emitter

func (f Fanout) EmitProduct(ctx context.Context, record models.ProductRecord) error {
	var errs []error
	for _, e := range f {
		if err := e.EmitProduct(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) EmitDiagnostic(ctx context.Context, report *models.DiagnosticReport) error {
	var errs []error
	for _, e := range f {
		if err := e.EmitDiagnostic(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, e := range f {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Emitter = Fanout(nil)
