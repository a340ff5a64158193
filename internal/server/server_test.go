package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baizecli/internal/config"
	"baizecli/internal/issuer"
)

const testFP = "abcd1234abcd1234"

func newTestServer(t *testing.T, cfg config.ServerConfig) (*httptest.Server, *issuer.Service) {
	t.Helper()

	db, err := issuer.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	svc := issuer.NewService(issuer.NewRepository(db), issuer.NewKeyStoreFromKey(key, nil), issuer.Config{
		Product:     config.ProductID,
		Version:     config.ProductVersion,
		CheckoutURL: "https://pay.example.com/checkout",
		SessionTTL:  time.Hour,
	}, nil)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, svc, logger, prometheus.NewRegistry())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func defaultConfig() config.ServerConfig {
	return config.ServerConfig{
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		AdminToken:   "admin-secret",
	}
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func issueCode(t *testing.T, svc *issuer.Service) string {
	t.Helper()
	issued, err := svc.GenerateCode(context.Background(), issuer.GenerateParams{MaxActivations: 1})
	require.NoError(t, err)
	return issued.Code
}

func TestValidateAcceptsFreshCode(t *testing.T) {
	ts, svc := newTestServer(t, defaultConfig())
	code := issueCode(t, svc)

	resp, body := postJSON(t, ts.URL+"/api/license/validate", map[string]string{
		"key":         code,
		"instance_id": testFP,
	}, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, out.Valid, out.Reason)
}

func TestValidateRejectsSecondRedemption(t *testing.T) {
	ts, svc := newTestServer(t, defaultConfig())
	code := issueCode(t, svc)

	req := map[string]string{"key": code, "instance_id": testFP}
	resp, _ := postJSON(t, ts.URL+"/api/license/validate", req, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postJSON(t, ts.URL+"/api/license/validate", req, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.False(t, out.Valid)
	assert.Equal(t, "max activations reached", out.Reason)
}

func TestValidateRejectsMalformedCodeWithoutLedgerHit(t *testing.T) {
	ts, _ := newTestServer(t, defaultConfig())

	resp, body := postJSON(t, ts.URL+"/api/license/validate", map[string]string{
		"key":         "not-a-code",
		"instance_id": testFP,
	}, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.False(t, out.Valid)
}

func TestValidateRequiresFields(t *testing.T) {
	ts, _ := newTestServer(t, defaultConfig())

	resp, body := postJSON(t, ts.URL+"/api/license/validate", map[string]string{
		"key": "AAAAA-BBBBB-CCCCC-DDDDD-EEEEE",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "INVALID_REQUEST")
}

func TestValidateRateLimit(t *testing.T) {
	cfg := defaultConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, RPS: 1, Burst: 2}
	ts, svc := newTestServer(t, cfg)
	code := issueCode(t, svc)

	req := map[string]string{"key": code, "instance_id": testFP}
	var last int
	for i := 0; i < 4; i++ {
		resp, _ := postJSON(t, ts.URL+"/api/license/validate", req, nil)
		last = resp.StatusCode
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestPaymentFlowEndToEnd(t *testing.T) {
	ts, _ := newTestServer(t, defaultConfig())

	// Open a checkout session.
	resp, body := postJSON(t, ts.URL+"/api/payment/create-checkout", map[string]any{
		"product_id":           config.ProductID,
		"hardware_fingerprint": testFP,
		"local_session_id":     "local-1",
		"client_version":       config.ProductVersion,
		"timestamp":            time.Now().Unix(),
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created struct {
		CheckoutURL string `json:"checkout_url"`
		SessionID   string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.SessionID)
	assert.Contains(t, created.CheckoutURL, created.SessionID)

	statusReq := map[string]any{
		"session_id":           created.SessionID,
		"hardware_fingerprint": testFP,
		"timestamp":            time.Now().Unix(),
	}

	// Still pending before payment.
	resp, body = postJSON(t, ts.URL+"/api/payment/check-status", statusReq, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		Status         string `json:"status"`
		ActivationCode string `json:"activation_code"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "pending", status.Status)
	assert.Empty(t, status.ActivationCode)

	// Provider webhook completes the payment.
	resp, _ = postJSON(t, ts.URL+"/api/payment/webhook", map[string]string{
		"session_id": created.SessionID,
		"event_type": "checkout.completed",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The code is now available to the paying device.
	resp, body = postJSON(t, ts.URL+"/api/payment/check-status", statusReq, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "completed", status.Status)
	assert.NotEmpty(t, status.ActivationCode)
}

func TestCheckStatusRefusesForeignDevice(t *testing.T) {
	ts, svc := newTestServer(t, defaultConfig())

	session, err := svc.CreateCheckout(context.Background(), testFP, "local-1")
	require.NoError(t, err)

	resp, _ := postJSON(t, ts.URL+"/api/payment/check-status", map[string]any{
		"session_id":           session.SessionID,
		"hardware_fingerprint": "other-device-0000",
		"timestamp":            time.Now().Unix(),
	}, nil)

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCheckStatusUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, defaultConfig())

	resp, body := postJSON(t, ts.URL+"/api/payment/check-status", map[string]any{
		"session_id":           "missing",
		"hardware_fingerprint": testFP,
	}, nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "SESSION_NOT_FOUND")
}

func TestCreateCheckoutRejectsUnknownProduct(t *testing.T) {
	ts, _ := newTestServer(t, defaultConfig())

	resp, body := postJSON(t, ts.URL+"/api/payment/create-checkout", map[string]any{
		"product_id":           "other-product",
		"hardware_fingerprint": testFP,
	}, nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "VALIDATION_FAILED")
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	ts, _ := newTestServer(t, defaultConfig())

	resp, body := postJSON(t, ts.URL+"/api/payment/webhook", map[string]string{
		"session_id": "whatever",
		"event_type": "checkout.opened",
	}, nil)

	// Acknowledged without touching any session.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "received")
}

func TestAdminGenerateCode(t *testing.T) {
	ts, _ := newTestServer(t, defaultConfig())

	resp, body := postJSON(t, ts.URL+"/api/admin/codes", map[string]any{
		"customer_email":  "user@example.com",
		"expires_days":    365,
		"max_activations": 2,
	}, map[string]string{"Authorization": "Bearer admin-secret"})

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var issued struct {
		Code      string `json:"code"`
		Payload   string `json:"signed_payload"`
		Signature string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(body, &issued))
	assert.Len(t, issued.Code, 29)
	assert.NotEmpty(t, issued.Signature)
}

func TestAdminGenerateCodeRequiresToken(t *testing.T) {
	ts, _ := newTestServer(t, defaultConfig())

	resp, _ := postJSON(t, ts.URL+"/api/admin/codes", map[string]any{}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postJSON(t, ts.URL+"/api/admin/codes", map[string]any{},
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMultipleServersRegisterMetricsIndependently(t *testing.T) {
	db, err := issuer.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	svc := issuer.NewService(issuer.NewRepository(db), issuer.NewKeyStoreFromKey(key, nil), issuer.Config{
		Product:     config.ProductID,
		Version:     config.ProductVersion,
		CheckoutURL: "https://pay.example.com/checkout",
		SessionTTL:  time.Hour,
	}, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Each server gets its own registry, so nothing double-registers on the
	// process-wide default.
	require.NotPanics(t, func() {
		New(defaultConfig(), svc, logger, prometheus.NewRegistry())
		New(defaultConfig(), svc, logger, prometheus.NewRegistry())
	})
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, defaultConfig())

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"status":"ok"`)
}
