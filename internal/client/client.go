// Package client talks to the licensing server: activation-code validation,
// checkout session creation, and payment status polling. All calls are
// blocking with a fixed timeout; asynchronous dispatch is the caller's job.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"baizecli/internal/store"
)

// DefaultTimeout is the ceiling for every licensing server call.
const DefaultTimeout = 30 * time.Second

// Endpoint paths on the licensing server.
const (
	validatePath       = "/api/license/validate"
	createCheckoutPath = "/api/payment/create-checkout"
	checkStatusPath    = "/api/payment/check-status"
)

// Client is the remote activation client.
type Client struct {
	baseURL       string
	productID     string
	clientVersion string
	httpClient    *http.Client
	sessions      *store.SessionStore
	logger        *slog.Logger
}

// New creates a client for the licensing server at baseURL. sessions persists
// checkout session mappings between runs.
func New(baseURL, productID, clientVersion string, timeout time.Duration, sessions *store.SessionStore, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:       baseURL,
		productID:     productID,
		clientVersion: clientVersion,
		httpClient:    &http.Client{Timeout: timeout},
		sessions:      sessions,
		logger:        logger.With(slog.String("component", "activation_client")),
	}
}

type validateRequest struct {
	Key        string `json:"key"`
	InstanceID string `json:"instance_id"`
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// VerifyCode asks the server whether code may be redeemed for this device.
// Network failures are reported as retryable, server rejections carry the
// server's reason.
func (c *Client) VerifyCode(ctx context.Context, code, fingerprint string) (bool, string) {
	var resp validateResponse
	status, err := c.post(ctx, validatePath, validateRequest{Key: code, InstanceID: fingerprint}, &resp)
	if err != nil {
		c.logger.Warn("license validation request failed",
			slog.String("error", err.Error()))
		return false, "Could not reach the license server. Please check your connection and try again."
	}
	if status != http.StatusOK {
		return false, friendlyHTTPMessage(status, resp.Reason)
	}
	if !resp.Valid {
		reason := resp.Reason
		if reason == "" {
			reason = "The license server rejected this activation code."
		}
		return false, reason
	}
	return true, "Activation code accepted."
}

type createCheckoutRequest struct {
	ProductID           string `json:"product_id"`
	HardwareFingerprint string `json:"hardware_fingerprint"`
	LocalSessionID      string `json:"local_session_id"`
	ClientVersion       string `json:"client_version"`
	Timestamp           int64  `json:"timestamp"`
}

type createCheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// CreateCheckoutSession opens a payment checkout for this device and stores
// the local-to-server session mapping for later polling.
func (c *Client) CreateCheckoutSession(ctx context.Context, fingerprint string) (bool, string, string) {
	localID := uuid.NewString()
	req := createCheckoutRequest{
		ProductID:           c.productID,
		HardwareFingerprint: fingerprint,
		LocalSessionID:      localID,
		ClientVersion:       c.clientVersion,
		Timestamp:           time.Now().Unix(),
	}

	var resp createCheckoutResponse
	status, err := c.post(ctx, createCheckoutPath, req, &resp)
	if err != nil {
		return false, "Could not reach the payment server. Please try again.", ""
	}
	if status != http.StatusOK {
		return false, friendlyHTTPMessage(status, ""), ""
	}
	if resp.CheckoutURL == "" || resp.SessionID == "" {
		return false, "The payment server returned an incomplete checkout session.", ""
	}

	if err := c.sessions.Put(localID, resp.SessionID); err != nil {
		// The checkout is still usable this run; only cross-run polling is at
		// risk, so surface the URL anyway.
		c.logger.Warn("failed to persist checkout session mapping",
			slog.String("error", err.Error()))
	}

	c.logger.Info("checkout session created",
		slog.String("local_session_id", localID),
		slog.String("server_session_id", resp.SessionID))
	return true, "Checkout session created.", resp.CheckoutURL
}

type checkStatusRequest struct {
	SessionID           string `json:"session_id"`
	HardwareFingerprint string `json:"hardware_fingerprint"`
	Timestamp           int64  `json:"timestamp"`
}

type checkStatusResponse struct {
	Status         string `json:"status"`
	ActivationCode string `json:"activation_code"`
}

// Payment session states reported by the server.
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusExpired   = "expired"
)

// PollPaymentStatus checks every stored checkout session. A completed session
// yields the issued activation code and removes the consumed mapping; an
// expired session is removed silently.
func (c *Client) PollPaymentStatus(ctx context.Context, fingerprint string) (bool, string, string) {
	sessions, err := c.sessions.All()
	if err != nil {
		return false, "Could not read stored checkout sessions.", ""
	}
	if len(sessions) == 0 {
		return false, "No pending payment found. Start a purchase first.", ""
	}

	pending := 0
	for localID, serverID := range sessions {
		var resp checkStatusResponse
		status, err := c.post(ctx, checkStatusPath, checkStatusRequest{
			SessionID:           serverID,
			HardwareFingerprint: fingerprint,
			Timestamp:           time.Now().Unix(),
		}, &resp)
		if err != nil {
			c.logger.Warn("payment status request failed",
				slog.String("server_session_id", serverID),
				slog.String("error", err.Error()))
			return false, "Could not reach the payment server. Please try again.", ""
		}
		if status != http.StatusOK {
			c.logger.Warn("payment status request rejected",
				slog.String("server_session_id", serverID),
				slog.Int("status", status))
			continue
		}

		switch resp.Status {
		case StatusCompleted:
			if err := c.sessions.Delete(localID); err != nil {
				c.logger.Warn("failed to remove consumed checkout session",
					slog.String("local_session_id", localID),
					slog.String("error", err.Error()))
			}
			c.logger.Info("payment completed, activation code received",
				slog.String("server_session_id", serverID))
			return true, "Payment completed.", resp.ActivationCode
		case StatusExpired:
			if err := c.sessions.Delete(localID); err != nil {
				c.logger.Warn("failed to remove expired checkout session",
					slog.String("local_session_id", localID),
					slog.String("error", err.Error()))
			}
		default:
			pending++
		}
	}

	if pending > 0 {
		return false, "Payment is still pending. Complete the checkout and try again.", ""
	}
	return false, "No pending payment found. Start a purchase first.", ""
}

// post sends a JSON POST and decodes the JSON response body into out. A
// non-2xx status is not an error here; the status code is returned so callers
// can shape the message. Error bodies with message/error fields are folded
// into out when it is a *validateResponse.
func (c *Client) post(ctx context.Context, path string, payload, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "baize-license/"+c.clientVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Error bodies are arbitrary JSON with a message or error field.
		if vr, ok := out.(*validateResponse); ok {
			vr.Reason = extractErrorMessage(data)
		}
		return resp.StatusCode, nil
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// extractErrorMessage pulls a display string out of an arbitrary error body.
func extractErrorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	for _, candidate := range []string{body.Message, body.Error, body.Reason} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// friendlyHTTPMessage maps HTTP failures to user-facing text, preferring the
// server's own message when one was supplied.
func friendlyHTTPMessage(status int, serverMessage string) string {
	if serverMessage != "" {
		return serverMessage
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "The license server refused this request. Please contact support if this persists."
	case status == http.StatusTooManyRequests:
		return "Too many attempts. Please wait a moment and try again."
	case status >= 500:
		return "The license server is temporarily unavailable. Please try again later."
	default:
		return fmt.Sprintf("The license server returned an unexpected response (HTTP %d).", status)
	}
}
