package license

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baizecli/internal/store"
	"baizecli/internal/trial"
	"baizecli/internal/vault"
)

const (
	testProductID = "baize-ai"
	testVersion   = "1.0.0"
	testCode      = "AB12C-34DE5-67FGH-89IJK-01LMN"
	testFP        = "abcd1234abcd1234"
)

type stubFingerprint string

func (s stubFingerprint) Fingerprint() string { return string(s) }

type stubRemote struct {
	valid  bool
	reason string
	calls  int
}

func (s *stubRemote) VerifyCode(_ context.Context, _, _ string) (bool, string) {
	s.calls++
	return s.valid, s.reason
}

type stubSelfCheck struct{ err error }

func (s stubSelfCheck) SelfCheck() error { return s.err }

type testEnv struct {
	manager *Manager
	remote  *stubRemote
	dir     string
}

func newTestManager(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	remote := &stubRemote{valid: true, reason: "Activation code accepted."}
	opts := Options{
		Store: store.NewMultiFile(nil,
			filepath.Join(dir, "home", ".baize_license"),
			filepath.Join(dir, "appdata", "license.dat"),
			filepath.Join(dir, "bundle", "license.dat"),
		),
		Trial:          trial.NewTracker(filepath.Join(dir, "trial"), 30, nil),
		Remote:         remote,
		Fingerprint:    stubFingerprint(testFP),
		ProductID:      testProductID,
		ProductVersion: testVersion,
		MarkerPath:     filepath.Join(dir, ".no_activation"),
	}
	if mutate != nil {
		mutate(&opts)
	}

	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	return &testEnv{manager: m, remote: remote, dir: dir}
}

func TestActivateThenCheckValidity(t *testing.T) {
	env := newTestManager(t, nil)

	ok, msg := env.manager.Activate(context.Background(), testCode)
	require.True(t, ok, "activation should succeed: %s", msg)

	valid, _, details := env.manager.CheckValidity()
	assert.True(t, valid)
	assert.Equal(t, TypeLicenseValidate, details.RecordType)
	assert.False(t, details.Trial)
}

func TestActivatePersistsToAllCandidates(t *testing.T) {
	env := newTestManager(t, nil)

	ok, _ := env.manager.Activate(context.Background(), testCode)
	require.True(t, ok)

	for _, p := range env.manager.store.Paths() {
		assert.FileExists(t, p)
	}
}

func TestActivateNormalizesInput(t *testing.T) {
	env := newTestManager(t, nil)

	ok, _ := env.manager.Activate(context.Background(), "  ab12c-34de5-67fgh-89ijk-01lmn ")
	require.True(t, ok)

	valid, _, _ := env.manager.CheckValidity()
	assert.True(t, valid)
}

func TestActivateFormatErrorSkipsNetwork(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{name: "wrong group length", code: "AB12-34DE5-67FGH-89IJK-01LMN"},
		{name: "no hyphens", code: "AB12C34DE567FGH89IJK01LMN"},
		{name: "empty", code: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestManager(t, nil)

			ok, msg := env.manager.Activate(context.Background(), tt.code)

			assert.False(t, ok)
			assert.NotEmpty(t, msg)
			assert.Zero(t, env.remote.calls, "format errors must not reach the network")
		})
	}
}

func TestActivateServerRejectionVerbatim(t *testing.T) {
	env := newTestManager(t, func(o *Options) {
		o.Remote = &stubRemote{valid: false, reason: "max activations reached"}
	})

	ok, msg := env.manager.Activate(context.Background(), testCode)

	assert.False(t, ok)
	assert.Equal(t, "max activations reached", msg)

	valid, _, details := env.manager.CheckValidity()
	assert.True(t, valid, "rejected activation leaves the trial running")
	assert.True(t, details.Trial)
}

func TestCheckValidityDeviceMismatch(t *testing.T) {
	env := newTestManager(t, nil)

	// Forge a record that decrypts under this device's key but claims a
	// different binding fingerprint.
	forged := newRecord(testCode, "ffff0000ffff0000", testVersion, time.Now())
	plaintext, err := forged.encode()
	require.NoError(t, err)
	blob, err := vault.Encrypt(plaintext, vault.DeriveKey(testFP, testProductID))
	require.NoError(t, err)
	require.NoError(t, env.manager.store.Save(blob))

	valid, msg, details := env.manager.CheckValidity()

	assert.False(t, valid)
	assert.Contains(t, msg, "different device")
	assert.Equal(t, ReasonDeviceMismatch, details.Reason)
}

func TestCheckValidityVersionMismatch(t *testing.T) {
	env := newTestManager(t, nil)

	stale := newRecord(testCode, testFP, "0.9.0", time.Now())
	plaintext, err := stale.encode()
	require.NoError(t, err)
	blob, err := vault.Encrypt(plaintext, vault.DeriveKey(testFP, testProductID))
	require.NoError(t, err)
	require.NoError(t, env.manager.store.Save(blob))

	valid, _, details := env.manager.CheckValidity()

	assert.False(t, valid)
	assert.Equal(t, ReasonVersionMismatch, details.Reason)
}

func TestCopiedLicenseFileFallsBackToTrial(t *testing.T) {
	// A license encrypted for another machine is unreadable here: the vault
	// key differs, so the record is treated as absent.
	env := newTestManager(t, nil)

	other := newRecord(testCode, "ffff0000ffff0000", testVersion, time.Now())
	plaintext, err := other.encode()
	require.NoError(t, err)
	blob, err := vault.Encrypt(plaintext, vault.DeriveKey("ffff0000ffff0000", testProductID))
	require.NoError(t, err)
	require.NoError(t, env.manager.store.Save(blob))

	valid, _, details := env.manager.CheckValidity()

	assert.True(t, valid, "decrypt failure degrades to trial, not a hard failure")
	assert.True(t, details.Trial)
}

func TestCheckValidityTrialFallback(t *testing.T) {
	env := newTestManager(t, nil)

	valid, _, details := env.manager.CheckValidity()

	assert.True(t, valid)
	assert.True(t, details.Trial)
	assert.Equal(t, 30, details.RemainingDays)
}

func TestCheckValidityNoActivationMarker(t *testing.T) {
	env := newTestManager(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, ".no_activation"), nil, 0o600))

	valid, _, details := env.manager.CheckValidity()

	assert.True(t, valid)
	assert.Equal(t, TypeNoActivation, details.RecordType)
	assert.Zero(t, env.remote.calls)
}

func TestDeactivateRemovesAllCopies(t *testing.T) {
	env := newTestManager(t, nil)

	ok, _ := env.manager.Activate(context.Background(), testCode)
	require.True(t, ok)

	assert.True(t, env.manager.Deactivate())
	for _, p := range env.manager.store.Paths() {
		assert.NoFileExists(t, p)
	}

	valid, _, details := env.manager.CheckValidity()
	assert.True(t, valid, "after deactivation the trial applies again")
	assert.True(t, details.Trial)
}

func TestNewManagerRequiresStoreAndFingerprint(t *testing.T) {
	_, err := NewManager(Options{Fingerprint: stubFingerprint(testFP)})
	assert.Error(t, err)

	_, err = NewManager(Options{Store: store.NewMultiFile(nil, filepath.Join(t.TempDir(), "x"))})
	assert.Error(t, err)
}

func TestNewManagerSurvivesFailedSelfCheck(t *testing.T) {
	env := newTestManager(t, func(o *Options) {
		o.SelfCheck = stubSelfCheck{err: errors.New("key mismatch")}
	})

	valid, _, _ := env.manager.CheckValidity()
	assert.True(t, valid, "self-check failure must not block local validation")
}

func TestActivateWithoutRemoteConfigured(t *testing.T) {
	env := newTestManager(t, func(o *Options) { o.Remote = nil })

	ok, msg := env.manager.Activate(context.Background(), testCode)

	assert.False(t, ok)
	assert.Contains(t, msg, "not available")
}
