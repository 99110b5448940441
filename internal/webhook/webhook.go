// Package webhook tells the course catalog when a viewer finishes a lesson.
// Deliveries are HMAC signed, retried and logged to webhook_deliveries.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sendrec/lessonstream/internal/database"
)

const (
	maxResponseBodyBytes = 1024

	EventLessonCompleted = "lesson.completed"
)

type Event struct {
	Name      string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

type Config struct {
	URL    string
	Secret string
}

type Client struct {
	db          database.DBTX
	http        *http.Client
	cfg         Config
	retryDelays []time.Duration
	now         func() time.Time
}

func New(db database.DBTX, cfg Config) *Client {
	return &Client{
		db:          db,
		http:        &http.Client{Timeout: 10 * time.Second},
		cfg:         cfg,
		retryDelays: []time.Duration{1 * time.Second, 4 * time.Second},
		now:         time.Now,
	}
}

func (c *Client) Enabled() bool { return c != nil && c.cfg.URL != "" }

// SignPayload computes HMAC-SHA256 of the payload using the secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// LessonCompleted delivers a lesson.completed event in the background. The
// request that triggered it does not wait for the catalog.
func (c *Client) LessonCompleted(ctx context.Context, userID, lessonID string, watchedSeconds float64) {
	if !c.Enabled() {
		return
	}
	event := Event{
		Name:      EventLessonCompleted,
		Timestamp: c.now().UTC(),
		Data: map[string]any{
			"userId":         userID,
			"lessonId":       lessonID,
			"watchedSeconds": watchedSeconds,
		},
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := c.Dispatch(ctx, userID, event); err != nil {
			slog.Warn("webhook: lesson completion not delivered", "user_id", userID, "lesson_id", lessonID, "error", err)
		}
	}()
}

// Dispatch sends an event to the configured URL with up to 3 attempts.
// Each attempt is logged to webhook_deliveries.
func (c *Client) Dispatch(ctx context.Context, userID string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	signature := SignPayload(c.cfg.Secret, body)
	maxAttempts := 1 + len(c.retryDelays)
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		statusCode, respBody, err := c.doPost(ctx, body, signature)
		c.logDelivery(ctx, userID, event.Name, body, statusCode, respBody, attempt)

		if err == nil && statusCode != nil && *statusCode >= 200 && *statusCode < 300 {
			return nil
		}

		if err != nil {
			lastErr = err
		} else if statusCode != nil {
			lastErr = fmt.Errorf("webhook returned status %d", *statusCode)
		}

		if attempt < maxAttempts {
			select {
			case <-time.After(c.retryDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

func (c *Client) doPost(ctx context.Context, body []byte, signature string) (*int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err.Error(), err
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, int64(maxResponseBodyBytes)+1))
	respBody := string(respBytes)
	if len(respBody) > maxResponseBodyBytes {
		respBody = respBody[:maxResponseBodyBytes]
	}

	return &resp.StatusCode, respBody, nil
}

func (c *Client) logDelivery(ctx context.Context, userID, event string, payload []byte, statusCode *int, responseBody string, attempt int) {
	if _, err := c.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (user_id, event, payload, status_code, response_body, attempt)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		userID, event, payload, statusCode, responseBody, attempt,
	); err != nil {
		slog.Error("webhook: failed to log delivery", "user_id", userID, "error", err)
	}
}
