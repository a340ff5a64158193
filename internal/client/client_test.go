package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baizecli/internal/store"
)

const testFingerprint = "abcd1234abcd1234"

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	sessions := store.NewSessionStore(filepath.Join(t.TempDir(), "sessions.json"))
	return New(serverURL, "baize-ai", "1.0.0", 0, sessions, nil)
}

func TestVerifyCodeAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/license/validate", r.URL.Path)

		var req validateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "AB12C-34DEF-56GHI-78JKL-90MNO", req.Key)
		assert.Equal(t, testFingerprint, req.InstanceID)

		json.NewEncoder(w).Encode(validateResponse{Valid: true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ok, msg := c.VerifyCode(context.Background(), "AB12C-34DEF-56GHI-78JKL-90MNO", testFingerprint)

	assert.True(t, ok)
	assert.NotEmpty(t, msg)
}

func TestVerifyCodeRejectedWithReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(validateResponse{Valid: false, Reason: "activation code already used"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ok, msg := c.VerifyCode(context.Background(), "AB12C-34DEF-56GHI-78JKL-90MNO", testFingerprint)

	assert.False(t, ok)
	assert.Equal(t, "activation code already used", msg, "server reason must be surfaced verbatim")
}

func TestVerifyCodeHTTPFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantContain string
	}{
		{
			name:        "structured error body",
			status:      http.StatusBadRequest,
			body:        `{"message":"malformed activation code"}`,
			wantContain: "malformed activation code",
		},
		{
			name:        "unauthorized",
			status:      http.StatusUnauthorized,
			body:        `{}`,
			wantContain: "refused",
		},
		{
			name:        "server error",
			status:      http.StatusInternalServerError,
			body:        `{}`,
			wantContain: "temporarily unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			ok, msg := c.VerifyCode(context.Background(), "AB12C-34DEF-56GHI-78JKL-90MNO", testFingerprint)

			assert.False(t, ok)
			assert.Contains(t, msg, tt.wantContain)
		})
	}
}

func TestVerifyCodeNetworkFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := newTestClient(t, srv.URL)
	ok, msg := c.VerifyCode(context.Background(), "AB12C-34DEF-56GHI-78JKL-90MNO", testFingerprint)

	assert.False(t, ok)
	assert.Contains(t, msg, "try again")
}

func TestCreateCheckoutSessionStoresMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/payment/create-checkout", r.URL.Path)

		var req createCheckoutRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "baize-ai", req.ProductID)
		assert.Equal(t, testFingerprint, req.HardwareFingerprint)
		assert.NotEmpty(t, req.LocalSessionID)
		assert.NotZero(t, req.Timestamp)

		json.NewEncoder(w).Encode(createCheckoutResponse{
			CheckoutURL: "https://pay.example.com/c/xyz",
			SessionID:   "srv-session-1",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ok, _, url := c.CreateCheckoutSession(context.Background(), testFingerprint)

	require.True(t, ok)
	assert.Equal(t, "https://pay.example.com/c/xyz", url)

	all, err := c.sessions.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	for _, serverID := range all {
		assert.Equal(t, "srv-session-1", serverID)
	}
}

func TestCreateCheckoutSessionIncompleteResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createCheckoutResponse{CheckoutURL: ""})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ok, msg, url := c.CreateCheckoutSession(context.Background(), testFingerprint)

	assert.False(t, ok)
	assert.Contains(t, msg, "incomplete")
	assert.Empty(t, url)
}

func TestPollPaymentStatusCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/payment/check-status", r.URL.Path)

		var req checkStatusRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "srv-session-1", req.SessionID)

		json.NewEncoder(w).Encode(checkStatusResponse{
			Status:         StatusCompleted,
			ActivationCode: "AB12C-34DEF-56GHI-78JKL-90MNO",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.sessions.Put("local-1", "srv-session-1"))

	ok, _, code := c.PollPaymentStatus(context.Background(), testFingerprint)

	require.True(t, ok)
	assert.Equal(t, "AB12C-34DEF-56GHI-78JKL-90MNO", code)

	all, err := c.sessions.All()
	require.NoError(t, err)
	assert.Empty(t, all, "consumed session mapping must be removed")
}

func TestPollPaymentStatusPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(checkStatusResponse{Status: StatusPending})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.sessions.Put("local-1", "srv-session-1"))

	ok, msg, code := c.PollPaymentStatus(context.Background(), testFingerprint)

	assert.False(t, ok)
	assert.Contains(t, msg, "pending")
	assert.Empty(t, code)

	all, err := c.sessions.All()
	require.NoError(t, err)
	assert.Len(t, all, 1, "pending sessions stay stored")
}

func TestPollPaymentStatusExpiredRemovesMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(checkStatusResponse{Status: StatusExpired})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.sessions.Put("local-1", "srv-session-1"))

	ok, _, code := c.PollPaymentStatus(context.Background(), testFingerprint)

	assert.False(t, ok)
	assert.Empty(t, code)

	all, err := c.sessions.All()
	require.NoError(t, err)
	assert.Empty(t, all, "expired session mapping must be removed without issuing a code")
}

func TestPollPaymentStatusNoSessions(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")

	ok, msg, _ := c.PollPaymentStatus(context.Background(), testFingerprint)

	assert.False(t, ok)
	assert.Contains(t, msg, "No pending payment")
}
