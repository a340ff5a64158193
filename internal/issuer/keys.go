// Package issuer is the server-side trust root: it generates, signs, and
// redeems activation codes. It is deployed separately and never shipped to
// end users; the client's embedded public key verifies against it.
package issuer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	keyBits            = 2048
	privateKeyFileName = "issuer_private.pem"
	publicKeyFileName  = "issuer_public.pem"
)

// pssOptions mirrors the client verifier: SHA-256, MGF1(SHA-256), maximum
// salt length.
var pssOptions = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthAuto,
	Hash:       crypto.SHA256,
}

// KeyStore owns the issuer signing keypair, generated once and persisted.
type KeyStore struct {
	key    *rsa.PrivateKey
	logger *slog.Logger
}

// LoadOrGenerateKeys returns the keypair stored in dir, generating and
// persisting a fresh 2048-bit pair on first run.
func LoadOrGenerateKeys(dir string, logger *slog.Logger) (*KeyStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "issuer_keys"))

	privatePath := filepath.Join(dir, privateKeyFileName)
	if data, err := os.ReadFile(privatePath); err == nil {
		key, err := parsePrivateKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parse existing private key: %w", err)
		}
		logger.Debug("issuer keypair loaded", slog.String("path", privatePath))
		return &KeyStore{key: key, logger: logger}, nil
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate issuer keypair: %w", err)
	}
	if err := persistKeys(dir, key); err != nil {
		return nil, err
	}

	logger.Info("issuer keypair generated",
		slog.String("dir", dir),
		slog.Int("bits", keyBits))
	return &KeyStore{key: key, logger: logger}, nil
}

// NewKeyStoreFromKey wraps an existing key. Used by tests.
func NewKeyStoreFromKey(key *rsa.PrivateKey, logger *slog.Logger) *KeyStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyStore{key: key, logger: logger}
}

// Sign produces a base64 RSA-PSS signature over payload.
func (k *KeyStore) Sign(payload []byte) (string, error) {
	digest := sha256Sum(payload)
	sig, err := rsa.SignPSS(rand.Reader, k.key, crypto.SHA256, digest, pssOptions)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PublicKey returns the verification half of the keypair.
func (k *KeyStore) PublicKey() *rsa.PublicKey {
	return &k.key.PublicKey
}

// PublicKeyPEM returns the public key in the PEM form embedded into client
// builds.
func (k *KeyStore) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func persistKeys(dir string, key *rsa.PrivateKey) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	privateDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateDER})
	if err := os.WriteFile(filepath.Join(dir, privateKeyFileName), privatePEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := os.WriteFile(filepath.Join(dir, publicKeyFileName), publicPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

func parsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want *rsa.PrivateKey", parsed)
	}
	return key, nil
}
