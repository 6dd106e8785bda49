package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tagrelay/tagrelay/internal/domain"
)

const defaultAttemptTimeout = 10 * time.Second

// Client is the outbound delivery port. It performs exactly one webhook call
// per Deliver invocation and never touches the event store.
type Client interface {
	Deliver(ctx context.Context, event domain.Event) (*Receipt, error)
}

// Receipt stores response metadata for the attempt audit trail.
type Receipt struct {
	StatusCode int
	Body       string
}

type webhookRequest struct {
	DeviceID string `json:"device_id"`
	Value    string `json:"value"`
}

// WebhookClient posts tag-read events to the configured HTTP endpoint.
type WebhookClient struct {
	client   *resty.Client
	endpoint string
	apiKey   string
}

func NewWebhookClient(endpoint, apiKey string, timeout time.Duration) (*WebhookClient, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	client.SetTimeout(timeout)
	// Retry scheduling belongs to the scheduler, not the HTTP layer.
	client.SetRetryCount(0)

	return NewWebhookClientWithClient(endpoint, apiKey, client)
}

func NewWebhookClientWithClient(endpoint, apiKey string, client *resty.Client) (*WebhookClient, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultAttemptTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookClient{
		client:   client,
		endpoint: trimmedEndpoint,
		apiKey:   strings.TrimSpace(apiKey),
	}, nil
}

func (c *WebhookClient) Deliver(ctx context.Context, event domain.Event) (*Receipt, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("delivery client is not initialized")
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}

	request := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(webhookRequest{
			DeviceID: event.DeviceID,
			Value:    event.Value,
		})
	if c.apiKey != "" {
		request.SetHeader("x-api-key", c.apiKey)
	}

	response, err := request.Post(c.endpoint)
	if err != nil {
		return nil, &Error{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &Error{
			Message:   "webhook returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Receipt{
			StatusCode: statusCode,
			Body:       responseBody,
		}, nil
	}

	return nil, &Error{
		StatusCode: statusCode,
		Message:    deliveryErrorMessage(statusCode, responseBody),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

// 429 and 5xx are worth retrying; other 4xx mean the payload or credentials
// are structurally wrong and retrying wastes the horizon.
func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func deliveryErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("webhook returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
