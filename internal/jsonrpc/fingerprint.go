package jsonrpc

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Canonical produces a deterministic JSON serialization of v: object keys
// sorted, no insignificant whitespace. It is idempotent: feeding the
// output of Canonical back through Canonical (via re-decoding) reproduces
// the same bytes.
func Canonical(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	var buf []byte
	buf = appendCanonical(buf, v)
	return string(buf), nil
}

func appendCanonical(buf []byte, v any) []byte {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...)
	case bool:
		if t {
			return append(buf, "true"...)
		}
		return append(buf, "false"...)
	case float64:
		return strconv.AppendFloat(buf, t, 'g', -1, 64)
	case string:
		b, _ := json.Marshal(t)
		return append(buf, b...)
	case []any:
		buf = append(buf, '[')
		for i, e := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendCanonical(buf, e)
		}
		return append(buf, ']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf = appendCanonical(buf, t[k])
		}
		return append(buf, '}')
	default:
		b, _ := json.Marshal(t)
		return append(buf, b...)
	}
}

// Fingerprint computes the dedup/cache key for a request already
// scoped to a network: "networkKey:method" when params is absent or empty,
// "networkKey:method:scalar" when params is a single scalar, otherwise
// "networkKey:method:canonical-json(params)".
//
// A request with params omitted produces the same fingerprint as one with
// params: [], both take the "no params" branch.
func Fingerprint(networkKey, method string, params Params) (string, error) {
	prefix := networkKey + ":" + method

	switch params.Kind() {
	case ParamsAbsent:
		return prefix, nil
	case ParamsList:
		if params.Len() == 0 {
			return prefix, nil
		}
		if params.Len() == 1 {
			if scalar, ok := scalarString(params.At(0)); ok {
				return prefix + ":" + scalar, nil
			}
		}
		canon, err := Canonical(params.Raw())
		if err != nil {
			return "", err
		}
		return prefix + ":" + canon, nil
	case ParamsByName:
		canon, err := Canonical(params.Raw())
		if err != nil {
			return "", err
		}
		return prefix + ":" + canon, nil
	default:
		return prefix, nil
	}
}

// scalarString reports whether raw decodes to a JSON scalar (string,
// number, bool, or null) and returns its string form for fingerprinting.
func scalarString(raw json.RawMessage) (string, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	case nil:
		return "null", true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	default:
		return "", false
	}
}
