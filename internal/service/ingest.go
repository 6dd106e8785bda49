package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tagrelay/tagrelay/internal/domain"
	"github.com/tagrelay/tagrelay/internal/observability"
	"github.com/tagrelay/tagrelay/internal/repository"
	"go.uber.org/zap"
)

// Ingestor is the write-through entry point for the card-reader collaborator.
// Submit does not return until the event is durably committed; delivery is
// the scheduler's problem afterwards.
type Ingestor struct {
	events   repository.EventRepository
	deviceID string
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewIngestor(events repository.EventRepository, deviceID string, logger *zap.Logger) (*Ingestor, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Ingestor{
		events:   events,
		deviceID: deviceID,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *Ingestor) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Submit persists one tag read and returns its assigned id. Every call is a
// distinct real event; debouncing repeated reads of a held tag is the
// reader's responsibility.
func (s *Ingestor) Submit(ctx context.Context, value string) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now().UTC()
	event := &domain.Event{
		DeviceID:      s.deviceID,
		Value:         strings.TrimSpace(value),
		Status:        domain.StatusPending,
		NextAttemptAt: &now,
		CreatedAt:     now,
	}

	if err := event.Validate(); err != nil {
		return 0, err
	}

	if err := s.events.Insert(ctx, event); err != nil {
		return 0, fmt.Errorf("failed to persist tag read: %w", err)
	}

	s.metrics.IncEventIngested()
	s.logger.Info("tag read stored",
		zap.Int64("eventId", event.ID),
		zap.String("value", event.Value),
	)

	return event.ID, nil
}
