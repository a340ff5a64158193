package license

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record types. The tag accreted over product history; new types get new
// constants rather than overloading existing ones.
const (
	// TypeLicenseValidate marks a record created from a server-verified
	// activation code.
	TypeLicenseValidate = "license_validate"

	// TypeNoActivation marks the synthetic record used by builds carrying the
	// no-activation marker file.
	TypeNoActivation = "no_activation"
)

// CurrentSchemaVersion is the schema version written by this build.
const CurrentSchemaVersion = 1

// Record is the authoritative local proof of activation, stored encrypted.
type Record struct {
	SchemaVersion       int    `json:"schema_version"`
	Type                string `json:"type"`
	ActivationCode      string `json:"activation_code"`
	HardwareFingerprint string `json:"hardware_fingerprint"`
	ActivatedAt         int64  `json:"activated_at"`
	ProductVersion      string `json:"product_version"`
	ServerVerified      bool   `json:"server_verified"`
}

// legacyRecord is the shape written before the schema version field existed.
// Field names accreted in the original client without a formal version, so
// decoding maps the old names onto the current schema.
type legacyRecord struct {
	Type           string `json:"type"`
	Code           string `json:"code"`
	Fingerprint    string `json:"fingerprint"`
	Timestamp      int64  `json:"timestamp"`
	Version        string `json:"version"`
	ServerVerified bool   `json:"server_verified"`
}

// newRecord builds a fresh server-verified record for this device.
func newRecord(code, fingerprint, productVersion string, now time.Time) *Record {
	return &Record{
		SchemaVersion:       CurrentSchemaVersion,
		Type:                TypeLicenseValidate,
		ActivationCode:      code,
		HardwareFingerprint: fingerprint,
		ActivatedAt:         now.Unix(),
		ProductVersion:      productVersion,
		ServerVerified:      true,
	}
}

// decodeRecord parses a plaintext record, migrating legacy records (no
// schema_version field) to the current schema.
func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse license record: %w", err)
	}

	if rec.SchemaVersion == 0 {
		var legacy legacyRecord
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("parse legacy license record: %w", err)
		}
		migrated := migrateLegacy(legacy)
		// Fields already present under current names win over legacy aliases.
		if rec.ActivationCode != "" {
			migrated.ActivationCode = rec.ActivationCode
		}
		if rec.HardwareFingerprint != "" {
			migrated.HardwareFingerprint = rec.HardwareFingerprint
		}
		if rec.ActivatedAt != 0 {
			migrated.ActivatedAt = rec.ActivatedAt
		}
		if rec.ProductVersion != "" {
			migrated.ProductVersion = rec.ProductVersion
		}
		rec = *migrated
	}

	if rec.Type == "" {
		return nil, fmt.Errorf("license record has no type tag")
	}
	return &rec, nil
}

// migrateLegacy lifts a pre-versioning record into the current schema.
func migrateLegacy(legacy legacyRecord) *Record {
	return &Record{
		SchemaVersion:       CurrentSchemaVersion,
		Type:                legacy.Type,
		ActivationCode:      legacy.Code,
		HardwareFingerprint: legacy.Fingerprint,
		ActivatedAt:         legacy.Timestamp,
		ProductVersion:      legacy.Version,
		ServerVerified:      legacy.ServerVerified,
	}
}

// encode serializes the record for encryption.
func (r *Record) encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal license record: %w", err)
	}
	return data, nil
}
