package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BaseURL    string
	Username   string
	Password   string
	TemplateID int
	// Allowlist restricts delivery to these addresses or @domains when set.
	Allowlist []string
}

type Client struct {
	config Config
	http   *http.Client
}

func New(cfg Config) *Client {
	return &Client{
		config: cfg,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

// ParseAllowlist splits a comma separated list of addresses and @domains.
func ParseAllowlist(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		if entry = strings.ToLower(strings.TrimSpace(entry)); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func (c *Client) allowed(to string) bool {
	if len(c.config.Allowlist) == 0 {
		return true
	}
	to = strings.ToLower(to)
	for _, entry := range c.config.Allowlist {
		if strings.HasPrefix(entry, "@") && strings.HasSuffix(to, entry) {
			return true
		}
		if entry == to {
			return true
		}
	}
	return false
}

type txRequest struct {
	SubscriberEmail string            `json:"subscriber_email"`
	TemplateID      int               `json:"template_id"`
	Data            map[string]string `json:"data"`
	ContentType     string            `json:"content_type"`
}

// SendOTP delivers a verification code through the Listmonk transactional API.
func (c *Client) SendOTP(ctx context.Context, toEmail, code, lang string, expiresIn time.Duration) error {
	if c.config.BaseURL == "" {
		slog.Info("email: not configured, verification code not sent", "to", toEmail)
		return nil
	}
	if !c.allowed(toEmail) {
		slog.Warn("email: recipient not in allowlist, skipping", "to", toEmail)
		return nil
	}

	body := txRequest{
		SubscriberEmail: toEmail,
		TemplateID:      c.config.TemplateID,
		Data: map[string]string{
			"code":             code,
			"lang":             lang,
			"expiresInMinutes": strconv.Itoa(int(expiresIn / time.Minute)),
		},
		ContentType: "html",
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/tx", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create email request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.config.Username, c.config.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send verification code: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listmonk returned status %d", resp.StatusCode)
	}

	return nil
}
