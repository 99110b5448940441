// Package api is the playback client's view of the lesson service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// StatusError is returned for every non-2xx response.
type StatusError struct {
	Status  int
	Message string
	// Stop is set when the service asks the client to halt playback.
	Stop bool
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// IsTransient reports the statuses a signed-URL fetch retries on.
func IsTransient(err error) bool {
	switch StatusOf(err) {
	case http.StatusUnauthorized, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// IsAuthExpired reports a rejected or expired video session.
func IsAuthExpired(err error) bool {
	return StatusOf(err) == http.StatusForbidden
}

// IsHardStop reports a service demand to stop playback on this device.
func IsHardStop(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Stop
}

type Config struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

type Client struct {
	baseURL     string
	accessToken string
	http        *http.Client

	mu           sync.RWMutex
	videoSession string
	deviceID     string
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		accessToken: cfg.AccessToken,
		http:        httpClient,
	}
}

// SetVideoSession installs the token returned by a successful OTP verify.
func (c *Client) SetVideoSession(token string) {
	c.mu.Lock()
	c.videoSession = token
	c.mu.Unlock()
}

func (c *Client) SetDeviceID(id string) {
	c.mu.Lock()
	c.deviceID = id
	c.mu.Unlock()
}

func (c *Client) ResolveSignedURL(ctx context.Context, req SignedURLRequest) (SignedURLResponse, error) {
	var out SignedURLResponse
	err := c.do(ctx, http.MethodPost, "/api/signed-url", req, &out)
	return out, err
}

// GetProgress returns nil when the viewer has no stored progress.
func (c *Client) GetProgress(ctx context.Context, lessonID string) (*Progress, error) {
	var out ProgressResponse
	path := "/api/progress?lessonId=" + url.QueryEscape(lessonID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Progress, nil
}

func (c *Client) PostProgress(ctx context.Context, req ProgressRequest) error {
	return c.do(ctx, http.MethodPost, "/api/progress", req, nil)
}

func (c *Client) BackfillDuration(ctx context.Context, lessonID string, duration float64) error {
	return c.do(ctx, http.MethodPost, "/api/duration", DurationRequest{LessonID: lessonID, Duration: duration}, nil)
}

func (c *Client) RequestOTP(ctx context.Context, lessonID, lang string) (OTPRequestResponse, error) {
	var out OTPRequestResponse
	err := c.do(ctx, http.MethodPost, "/api/otp", OTPRequest{Action: OTPActionRequest, LessonID: lessonID, Lang: lang}, &out)
	return out, err
}

func (c *Client) VerifyOTP(ctx context.Context, lessonID, code string) (OTPVerifyResponse, error) {
	var out OTPVerifyResponse
	err := c.do(ctx, http.MethodPost, "/api/otp", OTPRequest{Action: OTPActionVerify, LessonID: lessonID, Code: code}, &out)
	return out, err
}

func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) error {
	return c.do(ctx, http.MethodPost, "/api/heartbeat", req, nil)
}

type errorBody struct {
	Error string `json:"error"`
	Stop  bool   `json:"stop"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	c.mu.RLock()
	if c.videoSession != "" {
		req.Header.Set(VideoSessionHeader, c.videoSession)
	}
	if c.deviceID != "" {
		req.Header.Set(DeviceIDHeader, c.deviceID)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&eb)
		return &StatusError{Status: resp.StatusCode, Message: eb.Error, Stop: eb.Stop}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
