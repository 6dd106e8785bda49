package handler

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/tagrelay/tagrelay/internal/domain"
	"github.com/tagrelay/tagrelay/internal/repository"
)

// AdminService is the slice of the maintenance service the admin API exposes.
type AdminService interface {
	Stats(ctx context.Context) (*repository.Stats, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Event, error)
	ListPending(ctx context.Context) ([]domain.Event, error)
	ForceRetry(ctx context.Context, filter repository.ForceRetryFilter) (int64, error)
	Cleanup(ctx context.Context, olderThanDays int) (int64, error)
	ExportCSV(ctx context.Context, w io.Writer) (int64, error)
}

type AdminHandler struct {
	service AdminService
}

func NewAdminHandler(service AdminService) (*AdminHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("admin service is required")
	}
	return &AdminHandler{service: service}, nil
}

func RegisterAdminRoutes(router fiber.Router, service AdminService) error {
	h, err := NewAdminHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/stats", h.GetStats)
	v1.Get("/events/recent", h.ListRecentEvents)
	v1.Get("/events/pending", h.ListPendingEvents)
	v1.Post("/retry", h.ForceRetry)
	v1.Post("/cleanup", h.Cleanup)
	v1.Get("/export", h.ExportEvents)

	return nil
}

type forceRetryRequest struct {
	IncludeAbandoned bool   `json:"includeAbandoned"`
	EventID          *int64 `json:"eventId,omitempty"`
}

type cleanupRequest struct {
	OlderThanDays int `json:"olderThanDays"`
}

type statsResponse struct {
	Total           int64            `json:"total"`
	ByStatus        map[string]int64 `json:"byStatus"`
	LastHour        int64            `json:"lastHour"`
	OldestPendingAt *time.Time       `json:"oldestPendingAt,omitempty"`
}

type eventResponse struct {
	ID            int64      `json:"id"`
	DeviceID      string     `json:"deviceId"`
	Value         string     `json:"value"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attemptCount"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	LastError     *string    `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type eventListResponse struct {
	Data  []eventResponse `json:"data"`
	Count int             `json:"count"`
}

func (h *AdminHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.Context())
	if err != nil {
		return err
	}

	byStatus := make(map[string]int64, len(stats.ByStatus))
	for status, count := range stats.ByStatus {
		byStatus[status.String()] = count
	}

	return c.Status(fiber.StatusOK).JSON(statsResponse{
		Total:           stats.Total,
		ByStatus:        byStatus,
		LastHour:        stats.LastHour,
		OldestPendingAt: stats.OldestPendingAt,
	})
}

func (h *AdminHandler) ListRecentEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return fmt.Errorf("%w: limit must be >= 0", domain.ErrValidation)
	}

	events, err := h.service.ListRecent(c.Context(), limit)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toEventListResponse(events))
}

func (h *AdminHandler) ListPendingEvents(c *fiber.Ctx) error {
	events, err := h.service.ListPending(c.Context())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(toEventListResponse(events))
}

func (h *AdminHandler) ForceRetry(c *fiber.Ctx) error {
	var req forceRetryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	affected, err := h.service.ForceRetry(c.Context(), repository.ForceRetryFilter{
		IncludeAbandoned: req.IncludeAbandoned,
		EventID:          req.EventID,
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"affected": affected,
	})
}

func (h *AdminHandler) Cleanup(c *fiber.Ctx) error {
	var req cleanupRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	purged, err := h.service.Cleanup(c.Context(), req.OlderThanDays)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"purged": purged,
	})
}

func (h *AdminHandler) ExportEvents(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/csv")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="events.csv"`)

	_, err := h.service.ExportCSV(c.Context(), c.Response().BodyWriter())
	return err
}

func toEventListResponse(events []domain.Event) eventListResponse {
	data := make([]eventResponse, 0, len(events))
	for _, e := range events {
		data = append(data, eventResponse{
			ID:            e.ID,
			DeviceID:      e.DeviceID,
			Value:         e.Value,
			Status:        e.Status.String(),
			AttemptCount:  e.AttemptCount,
			NextAttemptAt: e.NextAttemptAt,
			LastError:     e.LastError,
			CreatedAt:     e.CreatedAt,
			UpdatedAt:     e.UpdatedAt,
		})
	}
	return eventListResponse{Data: data, Count: len(data)}
}
