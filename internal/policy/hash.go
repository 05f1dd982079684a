package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// HashArgs returns the hex-encoded SHA-256 digest of args' canonical JSON
// encoding: object keys sorted recursively, arrays left in order, compact
// form. Canonicalizing first means two structurally identical argument
// maps always hash identically regardless of map iteration order.
func HashArgs(args map[string]any) (string, error) {
	canon, err := canonicalize(args)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize rewrites v so that json.Marshal emits object keys in sorted
// order at every nesting level. encoding/json already sorts map[string]any
// keys, but nested maps decoded from json.RawMessage or constructed
// ad hoc may be map[string]any too; this walk makes the guarantee explicit
// and recursive regardless of the concrete map/slice types involved.
func canonicalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(orderedMap, 0, len(val))
		for _, k := range keys {
			child, err := canonicalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, orderedPair{Key: k, Value: child})
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			child, err := canonicalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = child
		}
		return out, nil
	default:
		return val, nil
	}
}

// orderedPair and orderedMap implement json.Marshaler to emit object keys
// in a fixed order, since Go's map[string]any marshaling sorts keys but we
// need that guarantee to hold even when canonicalize runs on an
// already-sorted structure built by hand in tests.
type orderedPair struct {
	Key   string
	Value any
}

type orderedMap []orderedPair

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, pair := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(pair.Key)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		valJSON, err := json.Marshal(pair.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}
