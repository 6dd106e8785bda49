package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/tagrelay/tagrelay/internal/delivery"
	"github.com/tagrelay/tagrelay/internal/domain"
	"github.com/tagrelay/tagrelay/internal/observability"
	"github.com/tagrelay/tagrelay/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultScanInterval = 30 * time.Second
	defaultBatchLimit   = 100
	defaultRetryHorizon = 7 * 24 * time.Hour
	defaultBaseDelay    = time.Minute
	defaultMaxDelay     = 6 * time.Hour
)

// SchedulerConfig carries the retry policy knobs. Zero values fall back to
// the defaults above.
type SchedulerConfig struct {
	ScanInterval time.Duration
	BatchLimit   int
	RetryHorizon time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

// Scheduler periodically scans for due pending events and drives each one
// through a delivery attempt, owning every PENDING-state transition.
type Scheduler struct {
	events   repository.EventRepository
	attempts repository.AttemptRepository
	client   delivery.Client
	logger   *zap.Logger
	metrics  *observability.Metrics
	cfg      SchedulerConfig
	now      func() time.Time
	randIntn func(n int) int
}

func NewScheduler(
	events repository.EventRepository,
	attempts repository.AttemptRepository,
	client delivery.Client,
	cfg SchedulerConfig,
	logger *zap.Logger,
) (*Scheduler, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if client == nil {
		return nil, fmt.Errorf("delivery client is required")
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = defaultScanInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if cfg.RetryHorizon <= 0 {
		cfg.RetryHorizon = defaultRetryHorizon
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBaseDelay
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = defaultMaxDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		events:   events,
		attempts: attempts,
		client:   client,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		randIntn: rand.Intn,
	}, nil
}

func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start runs the delivery loop until context cancellation. A failed cycle is
// logged and retried on the next tick; it never stops the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so reads queued while the daemon was down do not
	// wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("scheduler scan failed", zap.Error(err))
			}
		}
	}
}

// scanDue attempts every due event strictly in id order so delivery follows
// capture order. Store errors abort the cycle with event states unchanged.
func (s *Scheduler) scanDue(ctx context.Context) error {
	now := s.now().UTC()
	dueEvents, err := s.events.SelectDue(ctx, now, s.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch due events: %w", err)
	}

	for i := range dueEvents {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.processEvent(ctx, dueEvents[i]); err != nil {
			return err
		}
	}

	if s.metrics != nil {
		if stats, err := s.events.Stats(ctx, s.now().UTC()); err == nil {
			s.metrics.SetPendingEvents(stats.ByStatus[domain.StatusPending])
		}
	}

	return nil
}

func (s *Scheduler) processEvent(ctx context.Context, event domain.Event) error {
	attemptNumber := event.AttemptCount + 1

	sendStart := s.now()
	receipt, deliverErr := s.client.Deliver(ctx, event)
	s.metrics.ObserveDeliveryDuration(s.now().Sub(sendStart))

	// A shutdown mid-attempt leaves the event untouched; it stays due and the
	// next daemon run picks it up.
	if ctx.Err() != nil {
		return nil
	}

	if err := s.recordAttempt(ctx, event.ID, attemptNumber, receipt, deliverErr); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	if deliverErr == nil {
		if err := s.events.MarkDelivered(ctx, event.ID); err != nil {
			return s.transitionError(event.ID, "delivered", err)
		}
		s.metrics.IncEventDelivered()
		s.logger.Info("event delivered",
			zap.Int64("eventId", event.ID),
			zap.Int("attempt", attemptNumber),
		)
		return nil
	}

	now := s.now().UTC()
	if delivery.IsTransient(deliverErr) {
		if event.Age(now) > s.cfg.RetryHorizon {
			if err := s.events.MarkAbandoned(ctx, event.ID, deliverErr.Error()); err != nil {
				return s.transitionError(event.ID, "abandoned", err)
			}
			s.metrics.IncEventFailed("retry_exhausted")
			s.logger.Warn("event abandoned after retry horizon",
				zap.Int64("eventId", event.ID),
				zap.Int("attempt", attemptNumber),
				zap.Duration("age", event.Age(now)),
				zap.Error(deliverErr),
			)
			return nil
		}

		nextAttemptAt := now.Add(s.computeRetryDelay(attemptNumber))
		if err := s.events.MarkFailed(ctx, event.ID, deliverErr.Error(), nextAttemptAt); err != nil {
			return s.transitionError(event.ID, "failed", err)
		}
		s.metrics.IncRetryScheduled()
		s.logger.Warn("event delivery failed, retry scheduled",
			zap.Int64("eventId", event.ID),
			zap.Int("attempt", attemptNumber),
			zap.Time("nextAttemptAt", nextAttemptAt),
			zap.Error(deliverErr),
		)
		return nil
	}

	if err := s.events.MarkAbandoned(ctx, event.ID, deliverErr.Error()); err != nil {
		return s.transitionError(event.ID, "abandoned", err)
	}
	s.metrics.IncEventFailed("permanent_error")
	s.logger.Warn("event abandoned on permanent failure",
		zap.Int64("eventId", event.ID),
		zap.Int("attempt", attemptNumber),
		zap.Error(deliverErr),
	)
	return nil
}

// transitionError downgrades a lost transition race to a log line; only real
// store failures propagate.
func (s *Scheduler) transitionError(eventID int64, target string, err error) error {
	if errors.Is(err, domain.ErrConflict) {
		s.logger.Warn("event left PENDING before transition",
			zap.Int64("eventId", eventID),
			zap.String("target", target),
		)
		return nil
	}
	return fmt.Errorf("failed to mark event %d %s: %w", eventID, target, err)
}

// computeRetryDelay doubles the base delay per attempt up to the cap, with
// up to ±12.5% jitter so fleets sharing an endpoint do not retry in lockstep.
func (s *Scheduler) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := s.cfg.BackoffBase
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffMax {
			delay = s.cfg.BackoffMax
			break
		}
	}
	if delay > s.cfg.BackoffMax {
		delay = s.cfg.BackoffMax
	}

	if s.randIntn != nil {
		if span := int(delay / 4); span > 0 {
			delay += time.Duration(s.randIntn(span+1)) - delay/8
		}
	}

	return delay
}

func (s *Scheduler) recordAttempt(
	ctx context.Context,
	eventID int64,
	attemptNumber int,
	receipt *delivery.Receipt,
	deliverErr error,
) error {
	var statusCode *int
	var responseBody *string
	var attemptErr *string

	if receipt != nil {
		if receipt.StatusCode > 0 {
			value := receipt.StatusCode
			statusCode = &value
		}
		if body := strings.TrimSpace(receipt.Body); body != "" {
			responseBody = &body
		}
	}

	if deliverErr != nil {
		value := deliverErr.Error()
		attemptErr = &value

		if code := delivery.StatusCodeOf(deliverErr); code > 0 && statusCode == nil {
			statusCode = &code
		}
	}

	attempt := &domain.DeliveryAttempt{
		EventID:       eventID,
		AttemptNumber: attemptNumber,
		StatusCode:    statusCode,
		ResponseBody:  responseBody,
		Error:         attemptErr,
		CreatedAt:     s.now().UTC(),
	}

	return s.attempts.Create(ctx, attempt)
}
