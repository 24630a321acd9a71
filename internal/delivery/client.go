// Package delivery posts compiled digests to an HTTP mailer endpoint.
package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jimdaga/docpilot/internal/notifications"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Docpilot-Signature-256"

// Client delivers digests by HTTP POST
type Client struct {
	url        string
	secret     string
	httpClient *http.Client
	stubMode   bool
	logger     *slog.Logger
}

// NewClient creates a new delivery client. In stub mode digests are logged
// and reported delivered without any request.
func NewClient(url, secret string, stubMode bool, logger *slog.Logger) *Client {
	return &Client{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		stubMode:   stubMode,
		logger:     logger,
	}
}

type response struct {
	ID string `json:"id"`
}

// Send implements notifications.Sender.
func (c *Client) Send(ctx context.Context, d notifications.Digest) (notifications.Receipt, error) {
	if c.stubMode {
		id := "stub-" + uuid.NewString()
		c.logger.Info("Digest delivery stubbed",
			"delivery_id", id,
			"recipient", d.Recipient.Email,
			"subject", d.Subject,
		)
		return notifications.Receipt{ID: id, Delivered: true}, nil
	}

	body, err := json.Marshal(d)
	if err != nil {
		return notifications.Receipt{}, fmt.Errorf("failed to marshal digest: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return notifications.Receipt{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", d.BatchKey+":"+fmt.Sprint(d.Recipient.UserID))
	if c.secret != "" {
		req.Header.Set(SignatureHeader, Sign(c.secret, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return notifications.Receipt{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return notifications.Receipt{}, fmt.Errorf("delivery endpoint returned status %d: %s", resp.StatusCode, string(msg))
	}

	var r response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil || r.ID == "" {
		r.ID = uuid.NewString()
	}
	return notifications.Receipt{ID: r.ID, Delivered: true}, nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
