// Package license orchestrates the activation core: it decides whether an
// installation is authorized and processes activation codes. Every public
// operation returns a success flag plus a human-readable message; nothing in
// this package is allowed to take the host process down.
package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"baizecli/internal/config"
	"baizecli/internal/store"
	"baizecli/internal/trial"
	"baizecli/internal/vault"
)

// RemoteVerifier is the server-side activation check. Satisfied by
// client.Client.
type RemoteVerifier interface {
	VerifyCode(ctx context.Context, code, fingerprint string) (bool, string)
}

// TrialChecker is the trial window fallback. Satisfied by trial.Tracker.
type TrialChecker interface {
	Check() (bool, string, trial.Status)
}

// FingerprintSource produces the current device fingerprint. Satisfied by
// fingerprint.Generator.
type FingerprintSource interface {
	Fingerprint() string
}

// SelfChecker verifies the embedded issuer key at startup. Satisfied by
// sigverify.Verifier.
type SelfChecker interface {
	SelfCheck() error
}

// Details carries machine-readable context alongside a validity result.
type Details struct {
	Trial         bool   `json:"trial,omitempty"`
	RemainingDays int    `json:"remaining_days,omitempty"`
	Expired       bool   `json:"expired,omitempty"`
	RecordType    string `json:"record_type,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Mismatch reasons reported in Details.Reason.
const (
	ReasonDeviceMismatch  = "device_mismatch"
	ReasonVersionMismatch = "version_mismatch"
)

// Options configures a Manager. All collaborators are injected explicitly;
// the manager holds no ambient global state.
type Options struct {
	Store          *store.Multi
	Trial          TrialChecker
	Remote         RemoteVerifier
	Fingerprint    FingerprintSource
	SelfCheck      SelfChecker
	ProductID      string
	ProductVersion string
	MarkerPath     string
	Logger         *slog.Logger
}

// Manager composes the fingerprint generator, vault codec, license store,
// trial tracker and remote activation client.
type Manager struct {
	store          *store.Multi
	trial          TrialChecker
	remote         RemoteVerifier
	fingerprint    FingerprintSource
	productID      string
	productVersion string
	markerPath     string
	now            func() time.Time
	logger         *slog.Logger
	closed         bool
}

// NewManager creates the license manager and runs the issuer-key self-check
// when one is configured. A failed self-check is logged loudly but does not
// abort: local validation still works, only new activations would fail, and
// that failure surfaces with a clearer message at activation time.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("license: store is required")
	}
	if opts.Fingerprint == nil {
		return nil, fmt.Errorf("license: fingerprint source is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "license_manager"))

	if opts.SelfCheck != nil {
		if err := opts.SelfCheck.SelfCheck(); err != nil {
			logger.Error("issuer key self-check failed, activations will be rejected server-side",
				slog.String("error", err.Error()))
		}
	}

	m := &Manager{
		store:          opts.Store,
		trial:          opts.Trial,
		remote:         opts.Remote,
		fingerprint:    opts.Fingerprint,
		productID:      opts.ProductID,
		productVersion: opts.ProductVersion,
		markerPath:     opts.MarkerPath,
		now:            time.Now,
		logger:         logger,
	}

	logger.Debug("license manager initialized",
		slog.String("product", opts.ProductID),
		slog.String("version", opts.ProductVersion),
		slog.Int("store_candidates", len(opts.Store.Paths())))
	return m, nil
}

// CheckValidity answers whether this installation is authorized.
// Decision order: no-activation build marker, stored license record,
// trial window. Crypto and filesystem failures degrade to the trial path
// instead of failing the call.
func (m *Manager) CheckValidity() (bool, string, Details) {
	if m.markerPath != "" && config.FileExists(m.markerPath) {
		// Build-time escape hatch for no-activation distributions.
		m.logger.Info("no-activation marker present, skipping license checks",
			slog.String("marker", m.markerPath))
		return true, "This build does not require activation.", Details{RecordType: TypeNoActivation}
	}

	rec, err := m.loadRecord()
	if err != nil {
		return m.checkTrial()
	}

	currentFP := m.fingerprint.Fingerprint()
	if rec.HardwareFingerprint != currentFP {
		m.logger.Warn("license record bound to a different device",
			slog.String("record_fingerprint", rec.HardwareFingerprint),
			slog.String("current_fingerprint", currentFP))
		return false, "This license is bound to a different device.", Details{Reason: ReasonDeviceMismatch}
	}

	if rec.ProductVersion != m.productVersion {
		m.logger.Warn("license record version mismatch",
			slog.String("record_version", rec.ProductVersion),
			slog.String("current_version", m.productVersion))
		return false, fmt.Sprintf("This license was issued for version %s; please reactivate for version %s.",
			rec.ProductVersion, m.productVersion), Details{Reason: ReasonVersionMismatch}
	}

	return true, "License valid.", Details{RecordType: rec.Type}
}

// Activate validates code syntax locally, verifies the code against the
// licensing server, and on success persists the encrypted license record.
// Server rejection messages are returned verbatim for the UI.
func (m *Manager) Activate(ctx context.Context, code string) (bool, string) {
	code = NormalizeCode(code)
	if err := ValidateCodeFormat(code); err != nil {
		// Format errors are resolved locally; no network call is wasted.
		return false, err.Error()
	}
	if m.remote == nil {
		return false, "Activation is not available in this build."
	}

	fp := m.fingerprint.Fingerprint()
	m.logger.Info("activation attempt",
		slog.String("code", MaskCode(code)),
		slog.String("fingerprint", fp))

	ok, msg := m.remote.VerifyCode(ctx, code, fp)
	if !ok {
		m.logger.Warn("activation rejected",
			slog.String("code", MaskCode(code)),
			slog.String("reason", msg))
		return false, msg
	}

	rec := newRecord(code, fp, m.productVersion, m.now())
	if err := m.saveRecord(rec); err != nil {
		m.logger.Error("activation succeeded but record persistence failed",
			slog.String("error", err.Error()))
		return false, "Activation succeeded but the license could not be saved. Please check disk permissions and try again."
	}

	m.logger.Info("license activated",
		slog.String("code", MaskCode(code)))
	return true, "License activated successfully."
}

// Deactivate removes all local record copies, best effort, for
// device-transfer flows. The server is deliberately not notified: its
// redemption counter keeps the slot consumed. Changing that needs a product
// decision, not a silent fix here.
func (m *Manager) Deactivate() bool {
	ok := m.store.RemoveAll()
	m.logger.Info("license deactivated locally",
		slog.Bool("all_copies_removed", ok))
	return ok
}

// Close releases the manager. Present so embedders get an explicit
// lifecycle; there are no background resources today.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Debug("license manager closed")
	return nil
}

// checkTrial delegates to the trial tracker, mapping its status into Details.
func (m *Manager) checkTrial() (bool, string, Details) {
	if m.trial == nil {
		return false, "No license found. Please activate a license.", Details{}
	}
	ok, msg, status := m.trial.Check()
	return ok, msg, Details{
		Trial:         status.Trial,
		RemainingDays: status.RemainingDays,
		Expired:       status.Expired,
	}
}

// loadRecord reads and decrypts the stored record, taking the first
// candidate that decrypts with the key derived from the current fingerprint.
func (m *Manager) loadRecord() (*Record, error) {
	key := vault.DeriveKey(m.fingerprint.Fingerprint(), m.productID)

	var rec *Record
	_, err := m.store.Load(func(blob []byte) error {
		plaintext, err := vault.Decrypt(blob, key)
		if err != nil {
			return err
		}
		decoded, err := decodeRecord(plaintext)
		if err != nil {
			return err
		}
		rec = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// saveRecord encrypts and persists the record to every candidate path.
func (m *Manager) saveRecord(rec *Record) error {
	plaintext, err := rec.encode()
	if err != nil {
		return err
	}
	key := vault.DeriveKey(rec.HardwareFingerprint, m.productID)
	blob, err := vault.Encrypt(plaintext, key)
	if err != nil {
		return fmt.Errorf("encrypt license record: %w", err)
	}
	return m.store.Save(blob)
}
