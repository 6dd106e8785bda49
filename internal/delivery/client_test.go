package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tagrelay/tagrelay/internal/domain"
)

func testEvent() domain.Event {
	return domain.Event{
		ID:       1,
		DeviceID: "abc123",
		Value:    "123456789",
		Status:   domain.StatusPending,
	}
}

func TestWebhookClientDeliverSuccess(t *testing.T) {
	t.Parallel()

	var gotBody webhookRequest
	var gotContentType string
	var gotAPIKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotContentType = r.Header.Get("Content-Type")
		gotAPIKey = r.Header.Get("x-api-key")

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c, err := NewWebhookClient(server.URL, "secret-key", 0)
	if err != nil {
		t.Fatalf("NewWebhookClient() error = %v", err)
	}

	receipt, err := c.Deliver(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}

	if receipt.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", receipt.StatusCode, http.StatusAccepted)
	}
	if gotContentType != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotAPIKey != "secret-key" {
		t.Fatalf("x-api-key = %q, want secret-key", gotAPIKey)
	}
	if gotBody.DeviceID != "abc123" {
		t.Fatalf("request.device_id = %q, want abc123", gotBody.DeviceID)
	}
	if gotBody.Value != "123456789" {
		t.Fatalf("request.value = %q, want 123456789", gotBody.Value)
	}
}

func TestWebhookClientOmitsAPIKeyWhenUnset(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, present := r.Header["X-Api-Key"]; present {
			t.Error("x-api-key header must be absent when no key is configured")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, err := NewWebhookClient(server.URL, "", 0)
	if err != nil {
		t.Fatalf("NewWebhookClient() error = %v", err)
	}

	if _, err := c.Deliver(context.Background(), testEvent()); err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}
}

func TestWebhookClientStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		wantTransient bool
	}{
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, wantTransient: true},
		{name: "bad request is permanent", statusCode: http.StatusBadRequest, wantTransient: false},
		{name: "unauthorized is permanent", statusCode: http.StatusUnauthorized, wantTransient: false},
		{name: "internal server error is transient", statusCode: http.StatusInternalServerError, wantTransient: true},
		{name: "bad gateway is transient", statusCode: http.StatusBadGateway, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				_, _ = w.Write([]byte("nope"))
			}))
			defer server.Close()

			c, err := NewWebhookClient(server.URL, "", 0)
			if err != nil {
				t.Fatalf("NewWebhookClient() error = %v", err)
			}

			_, err = c.Deliver(context.Background(), testEvent())
			if err == nil {
				t.Fatal("expected delivery error")
			}
			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient = %v, want %v", got, tc.wantTransient)
			}
			if got := StatusCodeOf(err); got != tc.statusCode {
				t.Fatalf("StatusCodeOf = %d, want %d", got, tc.statusCode)
			}
		})
	}
}

func TestWebhookClientTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(20 * time.Millisecond)

	c, err := NewWebhookClientWithClient(server.URL, "", client)
	if err != nil {
		t.Fatalf("NewWebhookClientWithClient() error = %v", err)
	}

	_, err = c.Deliver(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("timed-out attempt must be transient, got %v", err)
	}
}

func TestWebhookClientCanceledContextIsNotTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, err := NewWebhookClient(server.URL, "", time.Second)
	if err != nil {
		t.Fatalf("NewWebhookClient() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Deliver(ctx, testEvent())
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	if IsTransient(err) {
		t.Fatalf("canceled attempt must not be transient, got %v", err)
	}
}

func TestNewWebhookClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWebhookClient("", "", 0); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewWebhookClient("not a url", "", 0); err == nil {
		t.Fatal("expected error for malformed endpoint")
	}
	if _, err := NewWebhookClientWithClient("https://example.com/hook", "", nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestDeliverRejectsInvalidEvent(t *testing.T) {
	t.Parallel()

	c, err := NewWebhookClient("https://example.com/hook", "", 0)
	if err != nil {
		t.Fatalf("NewWebhookClient() error = %v", err)
	}

	event := testEvent()
	event.Value = ""

	_, err = c.Deliver(context.Background(), event)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}
