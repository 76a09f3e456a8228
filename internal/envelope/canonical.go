// Package envelope implements the cryptographic envelope shared by every
// GitGovernance record: canonical payload hashing, Ed25519 keypair
// derivation, and the signature-digest construction used to sign and
// verify record headers.
//
// Hash stability across implementations is mandatory: records travel via
// git and must hash identically regardless of which tool last wrote
// them, so canonicalisation never depends on map iteration order or
// struct field order.
package envelope

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Canonicalise serialises payload as deterministic, compact JSON: object
// keys are recursively sorted, array order is preserved, and there is no
// redundant whitespace. Two payloads whose JSON differs only by key
// order or whitespace canonicalise to the same bytes.
func Canonicalise(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encodeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(keyJSON)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(raw)
		return nil
	}
}
