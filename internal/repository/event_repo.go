package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tagrelay/tagrelay/internal/domain"
	"gorm.io/gorm"
)

const exportBatchSize = 500

// Stats summarizes the store for the maintenance surface.
type Stats struct {
	Total           int64
	ByStatus        map[domain.Status]int64
	OldestPendingAt *time.Time
	LastHour        int64
}

// ForceRetryFilter narrows which rows a ForceRetry re-arms.
type ForceRetryFilter struct {
	// IncludeAbandoned also flips ABANDONED rows back to PENDING.
	IncludeAbandoned bool
	// EventID restricts the re-arm to a single event when non-nil.
	EventID *int64
}

type EventRepository interface {
	Insert(ctx context.Context, e *domain.Event) error
	GetByID(ctx context.Context, id int64) (*domain.Event, error)
	MarkDelivered(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time) error
	MarkAbandoned(ctx context.Context, id int64, lastError string) error
	SelectDue(ctx context.Context, now time.Time, limit int) ([]domain.Event, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Event, error)
	ListPending(ctx context.Context) ([]domain.Event, error)
	ForceRetry(ctx context.Context, filter ForceRetryFilter, now time.Time) (int64, error)
	PurgeDelivered(ctx context.Context, olderThan time.Time) (int64, error)
	ExportAll(ctx context.Context, fn func(domain.Event) error) error
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

// Insert durably commits the event before returning; the write-through
// guarantee of the ingestion path rests on this call.
func (r *GormEventRepo) Insert(ctx context.Context, e *domain.Event) error {
	model := eventModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *eventModelToDomain(model)
	}
	return nil
}

func (r *GormEventRepo) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	var model EventModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}

// MarkDelivered finalizes a successful attempt. The status guard makes the
// transition monotone: a row that already left PENDING is never touched.
func (r *GormEventRepo) MarkDelivered(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":          domain.StatusDelivered,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_error":      nil,
			"next_attempt_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormEventRepo) MarkFailed(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":          domain.StatusPending,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_error":      lastError,
			"next_attempt_at": nextAttemptAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *GormEventRepo) MarkAbandoned(ctx context.Context, id int64, lastError string) error {
	result := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":          domain.StatusAbandoned,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_error":      lastError,
			"next_attempt_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// SelectDue returns pending events whose deadline has passed, oldest id
// first so delivery preserves capture order.
func (r *GormEventRepo) SelectDue(ctx context.Context, now time.Time, limit int) ([]domain.Event, error) {
	var models []EventModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", domain.StatusPending, now).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}

	return events, nil
}

func (r *GormEventRepo) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{ByStatus: make(map[domain.Status]int64)}

	if err := r.db.WithContext(ctx).Model(&EventModel{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	var counts []struct {
		Status domain.Status `gorm:"column:status"`
		Count  int64         `gorm:"column:count"`
	}
	err := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.Count
	}

	var oldest EventModel
	err = r.db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Order("created_at ASC").
		First(&oldest).Error
	if err == nil {
		createdAt := oldest.CreatedAt
		stats.OldestPendingAt = &createdAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("created_at >= ?", now.Add(-time.Hour)).
		Count(&stats.LastHour).Error
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *GormEventRepo) ListRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	var models []EventModel
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}

	return events, nil
}

func (r *GormEventRepo) ListPending(ctx context.Context) ([]domain.Event, error) {
	var models []EventModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.StatusPending).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.Event, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}

	return events, nil
}

// ForceRetry re-arms matching rows for an immediate scheduler pass. PENDING
// rows get their deadline reset; ABANDONED rows additionally flip back to
// PENDING when the filter asks for it. DELIVERED rows are never touched.
func (r *GormEventRepo) ForceRetry(ctx context.Context, filter ForceRetryFilter, now time.Time) (int64, error) {
	query := r.db.WithContext(ctx).Model(&EventModel{})

	if filter.IncludeAbandoned {
		query = query.Where("status IN ?", []domain.Status{domain.StatusPending, domain.StatusAbandoned})
	} else {
		query = query.Where("status = ?", domain.StatusPending)
	}
	if filter.EventID != nil {
		query = query.Where("id = ?", *filter.EventID)
	}

	result := query.Updates(map[string]any{
		"status":          domain.StatusPending,
		"next_attempt_at": now,
	})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// PurgeDelivered deletes DELIVERED rows older than the cutoff together with
// their attempt audit rows. PENDING and ABANDONED rows are kept whatever
// their age.
func (r *GormEventRepo) PurgeDelivered(ctx context.Context, olderThan time.Time) (int64, error) {
	var purged int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(
			`DELETE FROM delivery_attempts WHERE event_id IN (SELECT id FROM events WHERE status = ? AND created_at < ?)`,
			domain.StatusDelivered, olderThan,
		).Error
		if err != nil {
			return err
		}

		result := tx.
			Where("status = ? AND created_at < ?", domain.StatusDelivered, olderThan).
			Delete(&EventModel{})
		if result.Error != nil {
			return result.Error
		}
		purged = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// ExportAll streams every event to fn in id order without loading the whole
// table; fn returning an error stops the scan.
func (r *GormEventRepo) ExportAll(ctx context.Context, fn func(domain.Event) error) error {
	var models []EventModel
	var fnErr error

	result := r.db.WithContext(ctx).
		Order("id ASC").
		FindInBatches(&models, exportBatchSize, func(tx *gorm.DB, batch int) error {
			for i := range models {
				if err := fn(*eventModelToDomain(&models[i])); err != nil {
					fnErr = err
					return err
				}
			}
			return nil
		})
	if fnErr != nil {
		return fnErr
	}
	return result.Error
}
