package issuer

import "database/sql"

// CodeRecord is a ledger row for an issued activation code. Counters only
// ever increase; a row is never deleted.
type CodeRecord struct {
	Code                string         `db:"code"`
	CustomerEmail       sql.NullString `db:"customer_email"`
	HardwareFingerprint sql.NullString `db:"hardware_fingerprint"`
	CreatedAt           int64          `db:"created_at"`
	ExpiresAt           sql.NullInt64  `db:"expires_at"`
	MaxActivations      int            `db:"max_activations"`
	Activations         int            `db:"activations"`
	Payload             string         `db:"payload"`
	Signature           string         `db:"signature"`
	LastRedeemedAt      sql.NullInt64  `db:"last_redeemed_at"`
}

// Expired reports whether the code has a passed expiry. A nil expiry never
// expires.
func (r *CodeRecord) Expired(now int64) bool {
	return r.ExpiresAt.Valid && now > r.ExpiresAt.Int64
}

// Exhausted reports whether the redemption budget is used up.
func (r *CodeRecord) Exhausted() bool {
	return r.Activations >= r.MaxActivations
}

// Payment session states.
const (
	SessionPending   = "pending"
	SessionCompleted = "completed"
	SessionExpired   = "expired"
)

// SessionRecord is a ledger row for a payment checkout session.
type SessionRecord struct {
	SessionID           string         `db:"session_id"`
	LocalSessionID      string         `db:"local_session_id"`
	HardwareFingerprint string         `db:"hardware_fingerprint"`
	Status              string         `db:"status"`
	ActivationCode      sql.NullString `db:"activation_code"`
	CreatedAt           int64          `db:"created_at"`
	ExpiresAt           int64          `db:"expires_at"`
}
