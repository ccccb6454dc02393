package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sender delivers a one-time code to a phone number.
type Sender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// Rearmer is implemented by senders holding a resource that can be replaced
// after an anti-abuse rejection.
type Rearmer interface {
	Rearm(ctx context.Context) error
}

// LogSender writes codes to the log. Development only.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendCode(_ context.Context, phone, code string) error {
	s.logger.Warn("one-time code (log sender)", zap.String("phone", phone), zap.String("code", code))
	return nil
}

// WebhookSender posts codes to an SMS gateway.
type WebhookSender struct {
	url    string
	apiKey string

	mu     sync.Mutex
	client *http.Client
}

type webhookPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

func NewWebhookSender(url, apiKey string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		apiKey: apiKey,
		client: newWebhookClient(),
	}
}

func newWebhookClient() *http.Client {
	return &http.Client{
		Timeout:   10 * time.Second,
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}
}

func (s *WebhookSender) SendCode(ctx context.Context, phone, code string) error {
	const op = "WebhookSender.SendCode"

	body, err := json.Marshal(webhookPayload{
		To:      phone,
		Message: fmt.Sprintf("%s is your Protein Guru verification code", code),
	})
	if err != nil {
		return newError(op, CodeConfigError, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return newError(op, CodeConfigError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		return newError(op, CodeProviderError, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return newError(op, CodeInvalidNumber, nil)
	case resp.StatusCode == http.StatusUnauthorized:
		return newError(op, CodeConfigError, fmt.Errorf("gateway rejected credentials"))
	case resp.StatusCode == http.StatusForbidden:
		return newError(op, CodeCaptchaFailed, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return newError(op, CodeRateLimited, nil)
	default:
		return newError(op, CodeProviderError, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

// Rearm drops pooled connections and starts over with a fresh client.
func (s *WebhookSender) Rearm(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.client.CloseIdleConnections()
	s.client = newWebhookClient()

	return nil
}
