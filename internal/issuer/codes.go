package issuer

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Activation codes are five hyphen-separated groups of five uppercase
// alphanumerics: four random groups forming the code identity plus one
// checksum group. The checksum is an MD5-derived typo detector, not a
// security boundary; forged checksums still fail the ledger lookup and the
// signature check.
const (
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeGroupLen   = 5
	codeIDGroups   = 4
	checksumLength = 5
)

// NewCodeString generates a fresh activation code.
func NewCodeString() (string, error) {
	id, err := randomCodeID()
	if err != nil {
		return "", err
	}
	return FormatCode(id), nil
}

// randomCodeID produces the 20-character random code identity.
func randomCodeID() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeIDGroups*codeGroupLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate code identity: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// FormatCode renders a 20-character code identity as the human-enterable
// form: four identity groups plus the checksum group.
func FormatCode(codeID string) string {
	groups := make([]string, 0, codeIDGroups+1)
	for i := 0; i < codeIDGroups; i++ {
		groups = append(groups, codeID[i*codeGroupLen:(i+1)*codeGroupLen])
	}
	groups = append(groups, checksumFragment(codeID))
	return strings.Join(groups, "-")
}

// checksumFragment derives the typo-detection group from the code identity.
func checksumFragment(codeID string) string {
	sum := md5.Sum([]byte(codeID))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:checksumLength]
}

// VerifyChecksum reports whether a formatted code's checksum group matches
// its identity groups. Used to catch typos before touching the ledger.
func VerifyChecksum(code string) bool {
	groups := strings.Split(code, "-")
	if len(groups) != codeIDGroups+1 {
		return false
	}
	for _, g := range groups {
		if len(g) != codeGroupLen {
			return false
		}
	}
	codeID := strings.Join(groups[:codeIDGroups], "")
	return groups[codeIDGroups] == checksumFragment(codeID)
}

// CodePayload is the canonical signed payload for an activation code. Field
// order is fixed; the stored signature covers exactly this serialization.
type CodePayload struct {
	Code                string  `json:"code"`
	CustomerEmail       string  `json:"customer_email,omitempty"`
	HardwareFingerprint *string `json:"hardware_fingerprint"`
	CreatedAt           int64   `json:"created_at"`
	ExpiresAt           *int64  `json:"expires_at"`
	MaxActivations      int     `json:"max_activations"`
	Activations         int     `json:"activations"`
	Product             string  `json:"product"`
	Version             string  `json:"version"`
}

// Canonical serializes the payload in its signing form.
func (p *CodePayload) Canonical() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal code payload: %w", err)
	}
	return data, nil
}

// PayloadDigestHex returns the hex SHA-256 of the canonical payload, logged
// for audit correlation instead of the payload itself.
func PayloadDigestHex(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:8])
}

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}
