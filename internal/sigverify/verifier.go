// Package sigverify validates the issuer's RSA-PSS signatures over license
// payloads. The issuer public key ships embedded in the client build;
// rotating it requires a client update.
package sigverify

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	_ "embed"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"strings"
)

//go:embed assets/license_public.pem
var embeddedPublicKeyPEM []byte

// selfCheckPayload is signed by the issuer at packaging time; the signature
// ships next to the public key so a key-mismatch deployment is caught at
// startup instead of at the first activation.
const selfCheckPayload = "baize-license-selfcheck-v1"

//go:embed assets/selfcheck.sig
var selfCheckSignature string

// pssOptions matches the issuer's signing scheme: SHA-256, MGF1(SHA-256),
// maximum salt length.
var pssOptions = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthAuto,
	Hash:       crypto.SHA256,
}

// Verifier checks issuer signatures against a single RSA public key.
type Verifier struct {
	key    *rsa.PublicKey
	logger *slog.Logger
}

// NewVerifier creates a verifier for an explicit public key. Used by tests
// and by the issuer's own round-trip checks.
func NewVerifier(key *rsa.PublicKey, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		key:    key,
		logger: logger.With(slog.String("component", "sigverify")),
	}
}

// NewEmbeddedVerifier creates a verifier for the public key compiled into
// this build.
func NewEmbeddedVerifier(logger *slog.Logger) (*Verifier, error) {
	key, err := ParsePublicKeyPEM(embeddedPublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse embedded public key: %w", err)
	}
	return NewVerifier(key, logger), nil
}

// ParsePublicKeyPEM parses a PEM-encoded PKIX RSA public key.
func ParsePublicKeyPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKIX public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want *rsa.PublicKey", parsed)
	}
	return key, nil
}

// Verify reports whether signatureBase64 is a valid issuer signature over
// payload. Malformed input never panics or errors out: it returns false with
// the reason logged.
func (v *Verifier) Verify(payload []byte, signatureBase64 string) bool {
	signature, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signatureBase64))
	if err != nil {
		v.logger.Warn("signature is not valid base64",
			slog.String("error", err.Error()))
		return false
	}

	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPSS(v.key, crypto.SHA256, digest[:], signature, pssOptions); err != nil {
		v.logger.Warn("signature verification failed",
			slog.String("error", err.Error()),
			slog.Int("payload_bytes", len(payload)))
		return false
	}
	return true
}

// SelfCheck verifies the embedded known-good test signature against the
// embedded public key. A failure means the build was packaged with a public
// key that does not match the issuer's signing key.
func (v *Verifier) SelfCheck() error {
	if !v.Verify([]byte(selfCheckPayload), selfCheckSignature) {
		return fmt.Errorf("embedded public key failed self-check: key does not match issuer signing key")
	}
	v.logger.Debug("issuer key self-check passed")
	return nil
}
