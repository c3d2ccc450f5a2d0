package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            dbClient
	Publisher     outbox.Publisher
	Repository    outboxRepository
	Registry      registryResolver
	DLQRepository dlqRepository
	Metrics       *metrics.OutboxMetrics
}

// Service drains outbox_events in batches. Each batch runs in one transaction
// so the row locks taken by the fetch hold until every row is settled.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	publisher    outbox.Publisher
	registry     registryResolver
	dlq          dlqRepository
	metrics      *metrics.OutboxMetrics
	broker       string
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	required := []struct {
		missing bool
		name    string
	}{
		{p.Config == nil, "config"},
		{p.Logger == nil, "logger"},
		{p.DB == nil, "database client"},
		{p.Publisher == nil, "publisher"},
		{p.Repository == nil, "outbox repository"},
		{p.Registry == nil, "event registry"},
		{p.DLQRepository == nil, "dlq repository"},
	}
	for _, dep := range required {
		if dep.missing {
			return nil, fmt.Errorf("outbox publisher: %s is required", dep.name)
		}
	}

	return &Service{
		logg:         p.Logger,
		db:           p.DB,
		repo:         p.Repository,
		publisher:    p.Publisher,
		registry:     p.Registry,
		dlq:          p.DLQRepository,
		metrics:      p.Metrics,
		broker:       p.Config.Eventing.BrokerName(),
		batchSize:    positiveOr(p.Config.Outbox.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(p.Config.Outbox.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(positiveOr(p.Config.Outbox.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run checks both dependencies once, then polls until ctx ends. A full batch
// polls again at once; an empty one waits the poll interval; a failed one
// backs off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	deps := []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", s.db.Ping},
		{s.broker, s.publisher.Ping},
	}
	for _, dep := range deps {
		if err := dep.ping(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", dep.name), "outbox.ping_failed", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}

	backoff := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox.stopped")
			return err
		}

		processed, err := s.processBatch(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox.batch_failed", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxBackoff)
			wait = withJitter(backoff)
		case processed:
			backoff = s.pollInterval
			continue
		default:
			backoff = s.pollInterval
			wait = withJitter(s.pollInterval)
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// processBatch reports whether any row was fetched. Only storage errors fail the batch.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	var fetched int
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		fetched = len(events)
		for _, event := range events {
			if err := s.settle(ctx, tx, event, s.attempt(ctx, event)); err != nil {
				return err
			}
		}
		return nil
	})
	return fetched > 0, err
}

type disposition int

const (
	published disposition = iota
	retryLater
	deadLetter
)

type outcome struct {
	disposition disposition
	reason      enums.OutboxDLQErrorReason
	err         error
	fields      map[string]any
}

// attempt resolves and publishes one row without touching storage.
func (s *Service) attempt(ctx context.Context, event models.OutboxEvent) outcome {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return outcome{deadLetter, enums.OutboxDLQReasonNonRetryable, err, s.eventFields(event, nil, "")}
	}

	topic := resolved.Descriptor.Topic
	fields := s.eventFields(event, &resolved.Envelope, topic)

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	err = s.publisher.Publish(publishCtx, outbox.NewMessage(topic, event, resolved.Envelope.EventID))
	cancel()

	var nonRetryable registry.NonRetryableError
	switch {
	case err == nil:
		return outcome{disposition: published, fields: fields}
	case errors.As(err, &nonRetryable):
		return outcome{deadLetter, enums.OutboxDLQReasonNonRetryable, err, fields}
	case event.AttemptCount+1 >= s.maxAttempts:
		fields["attempt_count"] = event.AttemptCount + 1
		return outcome{deadLetter, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err), fields}
	default:
		fields["attempt_count"] = event.AttemptCount + 1
		return outcome{retryLater, "", err, fields}
	}
}

// settle records the outcome on the row (and the DLQ) inside tx.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, o outcome) error {
	eventType := string(event.EventType)
	logCtx := s.logg.WithFields(ctx, o.fields)

	switch o.disposition {
	case published:
		if err := s.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.metrics.IncPublished(eventType)
		s.logg.Info(logCtx, "outbox.published")
		return nil

	case retryLater:
		s.metrics.IncFailed(eventType, false)
		s.logg.Warn(s.logg.WithField(logCtx, "error", o.err.Error()), "outbox.publish_failed")
		if err := s.repo.MarkFailedTx(tx, event.ID, o.err); err != nil {
			return fmt.Errorf("mark failed %s: %w", event.ID, err)
		}
		return nil
	}

	s.metrics.IncFailed(eventType, true)
	s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
		"error":        o.err.Error(),
		"error_reason": o.reason,
	}), "outbox.dead_lettered")

	msg := o.err.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   o.reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, event.ID, o.err, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func (s *Service) eventFields(event models.OutboxEvent, env *outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"attempt_count":  event.AttemptCount,
		"broker":         s.broker,
	}
	if env != nil && env.EventID != "" {
		fields["event_id"] = env.EventID
		fields["occurred_at"] = env.OccurredAt.Format(time.RFC3339Nano)
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// nextBackoff doubles current (or base when unset) and caps it at limit.
func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, limit)
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}
