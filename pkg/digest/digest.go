// Package digest builds the canonical evidence digest anchored for each MRV
// attestation. The digest is sha256 over compact JSON with sorted keys.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"carbon-scribe/mrv-registry/internal/apperrors"
)

// Reserved keys merged into every analysis payload. They always override
// caller-supplied keys of the same name.
const (
	KeyProjectID   = "project_id"
	KeyTimestamp   = "timestamp"
	KeyValidatorID = "validator_id"
)

// TimestampLayout is the UTC ISO-8601 rendering used in the preimage.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders ts the way it appears in the preimage.
func FormatTimestamp(ts time.Time) string {
	return ts.UTC().Truncate(time.Millisecond).Format(TimestampLayout)
}

// Canonicalize serializes v with sorted keys and no whitespace.
func Canonicalize(v Value) ([]byte, error) {
	out, err := appendCanonical(make([]byte, 0, 256), v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEncoding, err)
	}
	return out, nil
}

// Hash renders sha256(preimage) as 0x-prefixed lowercase hex.
func Hash(preimage []byte) string {
	sum := sha256.Sum256(preimage)
	return "0x" + hex.EncodeToString(sum[:])
}

// Preimage merges the reserved keys into data and returns the canonical bytes.
func Preimage(projectID, validatorID string, ts time.Time, data map[string]any) ([]byte, error) {
	merged := make(map[string]Value, len(data)+3)
	for k, raw := range data {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: analysis key %q: %v", apperrors.ErrEncoding, k, err)
		}
		merged[k] = v
	}
	merged[KeyProjectID] = String(projectID)
	merged[KeyTimestamp] = String(FormatTimestamp(ts))
	merged[KeyValidatorID] = String(validatorID)

	return Canonicalize(Value{kind: KindMap, m: merged})
}

// Sum computes the evidence digest for one attestation and returns it along
// with the preimage that was hashed.
func Sum(projectID, validatorID string, ts time.Time, data map[string]any) (string, []byte, error) {
	preimage, err := Preimage(projectID, validatorID, ts, data)
	if err != nil {
		return "", nil, err
	}
	return Hash(preimage), preimage, nil
}
