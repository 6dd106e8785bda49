package repository

import (
	"time"

	"github.com/tagrelay/tagrelay/internal/domain"
)

// EventModel is the persistence model for the events table.
type EventModel struct {
	ID            int64         `gorm:"primaryKey;autoIncrement"`
	DeviceID      string        `gorm:"type:varchar(64);not null"`
	Value         string        `gorm:"type:varchar(255);not null"`
	Status        domain.Status `gorm:"type:varchar(20);not null;default:PENDING"`
	AttemptCount  int           `gorm:"not null;default:0"`
	NextAttemptAt *time.Time
	LastError     *string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (EventModel) TableName() string {
	return "events"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	EventID       int64   `gorm:"not null"`
	AttemptNumber int     `gorm:"not null"`
	StatusCode    *int    `gorm:"type:int"`
	ResponseBody  *string `gorm:"type:text"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func eventModelFromDomain(e *domain.Event) *EventModel {
	if e == nil {
		return nil
	}

	return &EventModel{
		ID:            e.ID,
		DeviceID:      e.DeviceID,
		Value:         e.Value,
		Status:        e.Status,
		AttemptCount:  e.AttemptCount,
		NextAttemptAt: e.NextAttemptAt,
		LastError:     e.LastError,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func eventModelToDomain(m *EventModel) *domain.Event {
	if m == nil {
		return nil
	}

	return &domain.Event{
		ID:            m.ID,
		DeviceID:      m.DeviceID,
		Value:         m.Value,
		Status:        m.Status,
		AttemptCount:  m.AttemptCount,
		NextAttemptAt: m.NextAttemptAt,
		LastError:     m.LastError,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:            a.ID,
		EventID:       a.EventID,
		AttemptNumber: a.AttemptNumber,
		StatusCode:    a.StatusCode,
		ResponseBody:  a.ResponseBody,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:            m.ID,
		EventID:       m.EventID,
		AttemptNumber: m.AttemptNumber,
		StatusCode:    m.StatusCode,
		ResponseBody:  m.ResponseBody,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}
