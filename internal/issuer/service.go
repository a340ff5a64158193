package issuer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Rejection reasons returned to clients. The validate endpoint forwards
// these verbatim.
const (
	ReasonNotFound       = "activation code not found"
	ReasonBadChecksum    = "activation code failed its checksum, please re-enter it"
	ReasonExpired        = "activation code has expired"
	ReasonMaxActivations = "max activations reached"
)

// Config carries the product identity stamped into signed payloads and the
// payment session parameters.
type Config struct {
	Product        string
	Version        string
	CheckoutURL    string
	SessionTTL     time.Duration
	MaxActivations int
}

// Service implements code issuance and redemption on top of the ledger.
type Service struct {
	repo   Repository
	keys   *KeyStore
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates the issuer service.
func NewService(repo Repository, keys *KeyStore, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxActivations <= 0 {
		cfg.MaxActivations = 1
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &Service{
		repo:   repo,
		keys:   keys,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "issuer")),
	}
}

// GenerateParams are the operator-supplied issuance options.
type GenerateParams struct {
	CustomerEmail  string
	ExpiresDays    int // 0 means no expiry
	MaxActivations int // 0 means the configured default
	Fingerprint    string // optional pre-binding to a device
}

// IssuedCode is the result of code generation.
type IssuedCode struct {
	Code      string `json:"code"`
	Payload   string `json:"signed_payload"`
	Signature string `json:"signature"`
}

// GenerateCode creates, signs, and records a fresh activation code.
func (s *Service) GenerateCode(ctx context.Context, params GenerateParams) (*IssuedCode, error) {
	code, err := NewCodeString()
	if err != nil {
		return nil, err
	}

	maxActivations := params.MaxActivations
	if maxActivations <= 0 {
		maxActivations = s.cfg.MaxActivations
	}

	now := s.now().Unix()
	var expiresAt *int64
	if params.ExpiresDays > 0 {
		exp := s.now().Add(time.Duration(params.ExpiresDays) * 24 * time.Hour).Unix()
		expiresAt = &exp
	}
	var fingerprint *string
	if params.Fingerprint != "" {
		fingerprint = &params.Fingerprint
	}

	payload := &CodePayload{
		Code:                code,
		CustomerEmail:       params.CustomerEmail,
		HardwareFingerprint: fingerprint,
		CreatedAt:           now,
		ExpiresAt:           expiresAt,
		MaxActivations:      maxActivations,
		Activations:         0,
		Product:             s.cfg.Product,
		Version:             s.cfg.Version,
	}
	canonical, err := payload.Canonical()
	if err != nil {
		return nil, err
	}
	signature, err := s.keys.Sign(canonical)
	if err != nil {
		return nil, err
	}

	rec := &CodeRecord{
		Code:           code,
		CreatedAt:      now,
		MaxActivations: maxActivations,
		Payload:        string(canonical),
		Signature:      signature,
	}
	if params.CustomerEmail != "" {
		rec.CustomerEmail = sql.NullString{String: params.CustomerEmail, Valid: true}
	}
	if fingerprint != nil {
		rec.HardwareFingerprint = sql.NullString{String: *fingerprint, Valid: true}
	}
	if expiresAt != nil {
		rec.ExpiresAt = sql.NullInt64{Int64: *expiresAt, Valid: true}
	}

	if err := s.repo.InsertCode(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("activation code issued",
		slog.String("payload_digest", PayloadDigestHex(canonical)),
		slog.Int("max_activations", maxActivations),
		slog.Bool("expires", expiresAt != nil))
	return &IssuedCode{
		Code:      code,
		Payload:   string(canonical),
		Signature: signature,
	}, nil
}

// Redeem validates and consumes one redemption slot of code for fingerprint.
// The boolean is the business outcome; the reason is client-displayable.
// Only infrastructure failures return an error.
func (s *Service) Redeem(ctx context.Context, code, fingerprint string) (bool, string, error) {
	if !VerifyChecksum(code) {
		return false, ReasonBadChecksum, nil
	}

	rec, err := s.repo.GetCode(ctx, code)
	if errors.Is(err, ErrCodeNotFound) {
		return false, ReasonNotFound, nil
	}
	if err != nil {
		return false, "", err
	}

	now := s.now().Unix()
	if rec.Expired(now) {
		// Expiry is permanent and checked before the budget: an expired code
		// is dead even with redemption slots left.
		return false, ReasonExpired, nil
	}
	if rec.Exhausted() {
		return false, ReasonMaxActivations, nil
	}

	err = s.repo.RedeemCode(ctx, code, fingerprint, now)
	if errors.Is(err, ErrBudgetExhausted) {
		// Lost the race with a concurrent redemption.
		return false, ReasonMaxActivations, nil
	}
	if err != nil {
		return false, "", err
	}

	s.logger.Info("activation code redeemed",
		slog.String("fingerprint", fingerprint),
		slog.Int("activation", rec.Activations+1),
		slog.Int("max_activations", rec.MaxActivations))
	return true, "", nil
}

// CheckoutSession is the client-facing view of a created session.
type CheckoutSession struct {
	SessionID   string
	CheckoutURL string
}

// CreateCheckout opens a payment session for the given device.
func (s *Service) CreateCheckout(ctx context.Context, fingerprint, localSessionID string) (*CheckoutSession, error) {
	sessionID := uuid.NewString()
	now := s.now()
	rec := &SessionRecord{
		SessionID:           sessionID,
		LocalSessionID:      localSessionID,
		HardwareFingerprint: fingerprint,
		Status:              SessionPending,
		CreatedAt:           now.Unix(),
		ExpiresAt:           now.Add(s.cfg.SessionTTL).Unix(),
	}
	if err := s.repo.InsertSession(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("payment session created",
		slog.String("session_id", sessionID),
		slog.String("fingerprint", fingerprint))
	return &CheckoutSession{
		SessionID:   sessionID,
		CheckoutURL: fmt.Sprintf("%s/%s", s.cfg.CheckoutURL, sessionID),
	}, nil
}

// Session returns the raw session record.
func (s *Service) Session(ctx context.Context, sessionID string) (*SessionRecord, error) {
	return s.repo.GetSession(ctx, sessionID)
}

// SessionStatus reports the session state, lazily expiring overdue pending
// sessions. The activation code is only present for completed sessions.
func (s *Service) SessionStatus(ctx context.Context, sessionID string) (string, string, error) {
	rec, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", "", err
	}

	if rec.Status == SessionPending && s.now().Unix() > rec.ExpiresAt {
		if err := s.repo.UpdateSessionStatus(ctx, sessionID, SessionExpired, nil); err != nil {
			return "", "", err
		}
		rec.Status = SessionExpired
	}

	code := ""
	if rec.Status == SessionCompleted && rec.ActivationCode.Valid {
		code = rec.ActivationCode.String
	}
	return rec.Status, code, nil
}

// CompletePayment marks a session paid and issues its activation code,
// pre-bound to the session's device. Called from the payment provider
// webhook. Completing an already completed session returns the existing
// code, so webhook retries are harmless.
func (s *Service) CompletePayment(ctx context.Context, sessionID string) (string, error) {
	rec, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	switch rec.Status {
	case SessionCompleted:
		if rec.ActivationCode.Valid {
			return rec.ActivationCode.String, nil
		}
		return "", fmt.Errorf("session %s completed without a code", sessionID)
	case SessionExpired:
		return "", fmt.Errorf("session %s already expired", sessionID)
	}
	if s.now().Unix() > rec.ExpiresAt {
		return "", fmt.Errorf("session %s expired before completion", sessionID)
	}

	issued, err := s.GenerateCode(ctx, GenerateParams{Fingerprint: rec.HardwareFingerprint})
	if err != nil {
		return "", err
	}
	if err := s.repo.UpdateSessionStatus(ctx, sessionID, SessionCompleted, &issued.Code); err != nil {
		return "", err
	}

	s.logger.Info("payment completed, activation code issued",
		slog.String("session_id", sessionID))
	return issued.Code, nil
}
