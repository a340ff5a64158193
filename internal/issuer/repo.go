package issuer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repository persists activation codes and payment sessions.
type Repository interface {
	InsertCode(ctx context.Context, rec *CodeRecord) error
	GetCode(ctx context.Context, code string) (*CodeRecord, error)
	// RedeemCode atomically increments the redemption counter and records the
	// binding fingerprint, guarded by the remaining budget. Returns
	// ErrBudgetExhausted when no redemption slot is left.
	RedeemCode(ctx context.Context, code, fingerprint string, now int64) error

	InsertSession(ctx context.Context, rec *SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	UpdateSessionStatus(ctx context.Context, sessionID, status string, activationCode *string) error
}

var (
	// ErrCodeNotFound is returned when a code has no ledger entry.
	ErrCodeNotFound = errors.New("issuer: activation code not found")

	// ErrSessionNotFound is returned when a payment session is unknown.
	ErrSessionNotFound = errors.New("issuer: payment session not found")

	// ErrBudgetExhausted is returned when every redemption slot is consumed.
	ErrBudgetExhausted = errors.New("issuer: max activations reached")
)

type repo struct {
	db *sqlx.DB
}

// NewRepository creates a sqlx-backed repository.
func NewRepository(db *sqlx.DB) Repository {
	return &repo{db: db}
}

const insertCodeSQL = `
INSERT INTO activation_code
	(code, customer_email, hardware_fingerprint, created_at, expires_at,
	 max_activations, activations, payload, signature)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (r *repo) InsertCode(ctx context.Context, rec *CodeRecord) error {
	_, err := r.db.ExecContext(ctx, insertCodeSQL,
		rec.Code,
		rec.CustomerEmail,
		rec.HardwareFingerprint,
		rec.CreatedAt,
		rec.ExpiresAt,
		rec.MaxActivations,
		rec.Activations,
		rec.Payload,
		rec.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert activation code: %w", err)
	}
	return nil
}

func (r *repo) GetCode(ctx context.Context, code string) (*CodeRecord, error) {
	var rec CodeRecord
	err := r.db.GetContext(ctx, &rec,
		`SELECT * FROM activation_code WHERE code = ?`, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activation code: %w", err)
	}
	return &rec, nil
}

const redeemCodeSQL = `
UPDATE activation_code
SET activations = activations + 1,
    hardware_fingerprint = ?,
    last_redeemed_at = ?
WHERE code = ? AND activations < max_activations`

func (r *repo) RedeemCode(ctx context.Context, code, fingerprint string, now int64) error {
	res, err := r.db.ExecContext(ctx, redeemCodeSQL, fingerprint, now, code)
	if err != nil {
		return fmt.Errorf("redeem activation code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("redeem activation code: rows affected: %w", err)
	}
	if affected == 0 {
		// Either unknown or out of budget; distinguish for the caller.
		if _, err := r.GetCode(ctx, code); err != nil {
			return err
		}
		return ErrBudgetExhausted
	}
	return nil
}

const insertSessionSQL = `
INSERT INTO payment_session
	(session_id, local_session_id, hardware_fingerprint, status, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?)`

func (r *repo) InsertSession(ctx context.Context, rec *SessionRecord) error {
	_, err := r.db.ExecContext(ctx, insertSessionSQL,
		rec.SessionID,
		rec.LocalSessionID,
		rec.HardwareFingerprint,
		rec.Status,
		rec.CreatedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment session: %w", err)
	}
	return nil
}

func (r *repo) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	err := r.db.GetContext(ctx, &rec,
		`SELECT * FROM payment_session WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment session: %w", err)
	}
	return &rec, nil
}

func (r *repo) UpdateSessionStatus(ctx context.Context, sessionID, status string, activationCode *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_session SET status = ?, activation_code = ? WHERE session_id = ?`,
		status, activationCode, sessionID)
	if err != nil {
		return fmt.Errorf("update payment session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment session: rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}
