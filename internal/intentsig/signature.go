// Package intentsig implements the intent signature (C2): a
// deterministic fingerprint of the stable subset of a Job, used as the
// result cache's key.
package intentsig

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/haasonsaas/agentengine/pkg/models"
)

// Compute returns the 64-character lowercase hex SHA-256 digest of the
// canonical serialization of job's stable subset (§4.2).
func Compute(job models.Job) string {
	canonical := canonicalize(toAny(job.Stable()))
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Short returns the first 8 hex characters of sig, for human display.
func Short(sig string) string {
	if len(sig) <= 8 {
		return sig
	}
	return sig[:8]
}

// toAny round-trips v through JSON to obtain a plain map[string]any /
// []any / scalar tree, the representation canonicalize walks.
func toAny(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		// Stable subset is always a struct of JSON-marshalable fields;
		// a marshal failure here would be a programming error, not a
		// runtime condition to recover from gracefully.
		panic(err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		panic(err)
	}
	return decoded
}

// canonicalize re-emits v as JSON with object keys in ascending
// lexicographic order at every depth, omitting nothing present (a
// key already absent in the decoded map reflects an "undefined" field
// that json.Marshal's `omitempty` tags already dropped upstream) and
// preserving array order and JSON-standard string/number formatting.
func canonicalize(v any) []byte {
	return appendCanonical(nil, v)
}

func appendCanonical(buf []byte, v any) []byte {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			keyJSON, _ := json.Marshal(k)
			buf = append(buf, keyJSON...)
			buf = append(buf, ':')
			buf = appendCanonical(buf, val[k])
		}
		buf = append(buf, '}')
		return buf
	case []any:
		buf = append(buf, '[')
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonical(buf, item)
		}
		buf = append(buf, ']')
		return buf
	default:
		// nil (JSON null), bool, float64, and string all encode
		// deterministically via the standard encoder.
		encoded, _ := json.Marshal(val)
		return append(buf, encoded...)
	}
}
