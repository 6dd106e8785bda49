package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tagrelay/tagrelay/internal/domain"
	"github.com/tagrelay/tagrelay/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

var exportHeader = []string{"id", "device_id", "value", "created_at", "status", "attempt_count", "last_error"}

// Maintenance backs the admin API and the tagrelayctl CLI. It only reads
// event state or performs the explicitly administrative writes (re-arm,
// retention purge); the delivery lifecycle stays with the scheduler.
type Maintenance struct {
	events repository.EventRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewMaintenance(events repository.EventRepository, logger *zap.Logger) (*Maintenance, error) {
	if events == nil {
		return nil, fmt.Errorf("event repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Maintenance{
		events: events,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *Maintenance) Stats(ctx context.Context) (*repository.Stats, error) {
	return s.events.Stats(ctx, s.now().UTC())
}

func (s *Maintenance) ListRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	return s.events.ListRecent(ctx, limit)
}

func (s *Maintenance) ListPending(ctx context.Context) ([]domain.Event, error) {
	return s.events.ListPending(ctx)
}

// ForceRetry re-arms matching rows so the scheduler picks them up on its next
// cycle. This is the only path back from ABANDONED.
func (s *Maintenance) ForceRetry(ctx context.Context, filter repository.ForceRetryFilter) (int64, error) {
	affected, err := s.events.ForceRetry(ctx, filter, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to force retry: %w", err)
	}
	s.logger.Info("events re-armed for retry",
		zap.Int64("affected", affected),
		zap.Bool("includeAbandoned", filter.IncludeAbandoned),
	)
	return affected, nil
}

// Cleanup deletes delivered rows older than the retention window.
func (s *Maintenance) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, fmt.Errorf("%w: retention days must be positive, got %d", domain.ErrValidation, olderThanDays)
	}

	cutoff := s.now().UTC().AddDate(0, 0, -olderThanDays)
	purged, err := s.events.PurgeDelivered(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge delivered events: %w", err)
	}
	s.logger.Info("delivered events purged",
		zap.Int64("purged", purged),
		zap.Int("olderThanDays", olderThanDays),
	)
	return purged, nil
}

// ExportCSV streams the whole store as one CSV row per event.
func (s *Maintenance) ExportCSV(ctx context.Context, w io.Writer) (int64, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("failed to write export header: %w", err)
	}

	var exported int64
	err := s.events.ExportAll(ctx, func(e domain.Event) error {
		lastError := ""
		if e.LastError != nil {
			lastError = *e.LastError
		}
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.DeviceID,
			e.Value,
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Status.String(),
			strconv.Itoa(e.AttemptCount),
			lastError,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
		exported++
		return nil
	})
	if err != nil {
		return exported, fmt.Errorf("failed to export events: %w", err)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return exported, fmt.Errorf("failed to flush export: %w", err)
	}
	return exported, nil
}
