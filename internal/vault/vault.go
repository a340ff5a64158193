// Package vault is the symmetric encryption layer protecting the local
// license record at rest. The key is derived from the device fingerprint and
// the product identity, never persisted, so a copied license file is
// unreadable on any other machine.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// KeySize is the AES-256 key size in bytes.
const KeySize = 32

var (
	// ErrDecrypt is returned when a blob cannot be decrypted with the given
	// key. Callers treat this as "no valid record", not as a fault.
	ErrDecrypt = errors.New("vault: decryption failed")

	// ErrMalformed is returned when a blob is too short or not block-aligned.
	ErrMalformed = errors.New("vault: malformed ciphertext")
)

// DeriveKey derives the 256-bit record key from the device fingerprint and
// the product identity. The derivation is deliberately deterministic: the key
// is recomputed on every load instead of being stored anywhere.
func DeriveKey(fingerprint, productIdentity string) []byte {
	sum := sha256.Sum256([]byte(fingerprint + "_" + productIdentity))
	return sum[:]
}

// Encrypt encrypts plaintext with AES-256-CBC under key, using a fresh random
// 16-byte IV and PKCS#7 padding. The returned blob is iv ‖ ciphertext.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("vault: generate IV: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return out, nil
}

// Decrypt reverses Encrypt. A wrong key or tampered blob yields ErrDecrypt or
// ErrMalformed, never garbage plaintext and never a panic.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(blob) < 2*aes.BlockSize || len(blob)%aes.BlockSize != 0 {
		return nil, ErrMalformed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}

	iv := blob[:aes.BlockSize]
	ciphertext := blob[aes.BlockSize:]

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		// Bad padding almost always means a key derived from a different
		// fingerprint. Surface a uniform decode failure.
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, errors.New("invalid padding byte")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("inconsistent padding")
		}
	}
	return data[:len(data)-padding], nil
}
