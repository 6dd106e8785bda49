package service

import (
	"context"
	"time"

	"github.com/tagrelay/tagrelay/internal/delivery"
	"github.com/tagrelay/tagrelay/internal/domain"
	"github.com/tagrelay/tagrelay/internal/repository"
)

type fakeEventRepo struct {
	insertFn         func(ctx context.Context, e *domain.Event) error
	getByIDFn        func(ctx context.Context, id int64) (*domain.Event, error)
	markDeliveredFn  func(ctx context.Context, id int64) error
	markFailedFn     func(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time) error
	markAbandonedFn  func(ctx context.Context, id int64, lastError string) error
	selectDueFn      func(ctx context.Context, now time.Time, limit int) ([]domain.Event, error)
	statsFn          func(ctx context.Context, now time.Time) (*repository.Stats, error)
	listRecentFn     func(ctx context.Context, limit int) ([]domain.Event, error)
	listPendingFn    func(ctx context.Context) ([]domain.Event, error)
	forceRetryFn     func(ctx context.Context, filter repository.ForceRetryFilter, now time.Time) (int64, error)
	purgeDeliveredFn func(ctx context.Context, olderThan time.Time) (int64, error)
	exportAllFn      func(ctx context.Context, fn func(domain.Event) error) error
}

func (f *fakeEventRepo) Insert(ctx context.Context, e *domain.Event) error {
	if f.insertFn != nil {
		return f.insertFn(ctx, e)
	}
	return nil
}

func (f *fakeEventRepo) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeEventRepo) MarkDelivered(ctx context.Context, id int64) error {
	if f.markDeliveredFn != nil {
		return f.markDeliveredFn(ctx, id)
	}
	return nil
}

func (f *fakeEventRepo) MarkFailed(ctx context.Context, id int64, lastError string, nextAttemptAt time.Time) error {
	if f.markFailedFn != nil {
		return f.markFailedFn(ctx, id, lastError, nextAttemptAt)
	}
	return nil
}

func (f *fakeEventRepo) MarkAbandoned(ctx context.Context, id int64, lastError string) error {
	if f.markAbandonedFn != nil {
		return f.markAbandonedFn(ctx, id, lastError)
	}
	return nil
}

func (f *fakeEventRepo) SelectDue(ctx context.Context, now time.Time, limit int) ([]domain.Event, error) {
	if f.selectDueFn != nil {
		return f.selectDueFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeEventRepo) Stats(ctx context.Context, now time.Time) (*repository.Stats, error) {
	if f.statsFn != nil {
		return f.statsFn(ctx, now)
	}
	return &repository.Stats{ByStatus: map[domain.Status]int64{}}, nil
}

func (f *fakeEventRepo) ListRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	if f.listRecentFn != nil {
		return f.listRecentFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeEventRepo) ListPending(ctx context.Context) ([]domain.Event, error) {
	if f.listPendingFn != nil {
		return f.listPendingFn(ctx)
	}
	return nil, nil
}

func (f *fakeEventRepo) ForceRetry(ctx context.Context, filter repository.ForceRetryFilter, now time.Time) (int64, error) {
	if f.forceRetryFn != nil {
		return f.forceRetryFn(ctx, filter, now)
	}
	return 0, nil
}

func (f *fakeEventRepo) PurgeDelivered(ctx context.Context, olderThan time.Time) (int64, error) {
	if f.purgeDeliveredFn != nil {
		return f.purgeDeliveredFn(ctx, olderThan)
	}
	return 0, nil
}

func (f *fakeEventRepo) ExportAll(ctx context.Context, fn func(domain.Event) error) error {
	if f.exportAllFn != nil {
		return f.exportAllFn(ctx, fn)
	}
	return nil
}

type fakeAttemptRepo struct {
	createFn func(ctx context.Context, a *domain.DeliveryAttempt) error
	created  []domain.DeliveryAttempt
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if f.createFn != nil {
		return f.createFn(ctx, a)
	}
	f.created = append(f.created, *a)
	return nil
}

func (f *fakeAttemptRepo) GetByEventID(ctx context.Context, eventID int64) ([]domain.DeliveryAttempt, error) {
	var attempts []domain.DeliveryAttempt
	for _, a := range f.created {
		if a.EventID == eventID {
			attempts = append(attempts, a)
		}
	}
	return attempts, nil
}

type fakeClient struct {
	deliverFn func(ctx context.Context, event domain.Event) (*delivery.Receipt, error)
}

func (f *fakeClient) Deliver(ctx context.Context, event domain.Event) (*delivery.Receipt, error) {
	if f.deliverFn != nil {
		return f.deliverFn(ctx, event)
	}
	return &delivery.Receipt{StatusCode: 200}, nil
}
