package jsonrpc

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TTLClass classifies a method's caching behavior.
type TTLClass int

const (
	NotCacheable TTLClass = iota
	TimeCacheable
	InfinitelyCacheable
)

// infinitelyCacheable and timeCacheable are the definitive lowercase method
// sets. Extend conservatively; never remove an entry.
var infinitelyCacheable = map[string]bool{
	"eth_chainid":               true,
	"net_version":               true,
	"eth_gettransactionreceipt": true,
	"eth_gettransactionbyhash":  true,
	"eth_getblockbyhash":        true,
}

var timeCacheable = map[string]bool{
	"eth_blocknumber":      true,
	"eth_gasprice":         true,
	"eth_getlogs":          true,
	"eth_call":             true,
	"eth_getblockbynumber": true,
	"eth_getbalance":       true,
	"eth_getcode":          true,
	"eth_getstorageat":     true,
}

// Classify resolves the TTL class for a method+params pair, applying the
// two eth_call/eth_getBlockByNumber promotions to "infinite" when the
// call is pinned to an immutable historical block.
func Classify(method string, params Params) TTLClass {
	lower := strings.ToLower(method)

	if infinitelyCacheable[lower] {
		return InfinitelyCacheable
	}
	if !timeCacheable[lower] {
		return NotCacheable
	}

	switch lower {
	case "eth_call":
		if pinnedToHistoricalBlock(params) {
			return InfinitelyCacheable
		}
	case "eth_getblockbynumber":
		if tag, ok := params.AtString(0); ok && tag != "latest" && tag != "pending" && isHexString(tag) {
			return InfinitelyCacheable
		}
	}
	return TimeCacheable
}

// pinnedToHistoricalBlock implements the eth_call promotion: params[0]
// contains a blockHash property, or params[1] is a hex string ("0x...").
func pinnedToHistoricalBlock(params Params) bool {
	if obj := params.AtObject(0); obj != nil {
		if _, ok := obj["blockHash"]; ok {
			return true
		}
	}
	if tag, ok := params.AtString(1); ok && isHexString(tag) {
		return true
	}
	return false
}

// isHexString reports whether s is a well-formed "0x..."-prefixed hex
// quantity, using go-ethereum's own quantity decoder rather than a
// hand-rolled prefix check so malformed tags (non-hex digits, leading
// zeros, values wider than 64 bits) are rejected the same way the rest of
// the ecosystem rejects them. An odd nibble count such as "0x5" is a valid
// quantity and is accepted.
func isHexString(s string) bool {
	if len(s) < 3 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return false
	}
	_, err := hexutil.DecodeUint64(s)
	return err == nil
}

// TTL resolves the concrete TTL for a classified method. ok=false means
// "do not cache". A zero duration with ok=true means infinite (no expiry).
func TTL(class TTLClass, maxAge time.Duration) (time.Duration, bool) {
	switch class {
	case InfinitelyCacheable:
		return 0, true
	case TimeCacheable:
		return maxAge, true
	default:
		return 0, false
	}
}

// InvalidReason names why a response was refused caching, for the
// cache_invalid_entries_total{reason} metric.
type InvalidReason string

const (
	ReasonNullResult  InvalidReason = "null_result"
	ReasonEmptyArray  InvalidReason = "empty_array"
	ReasonEmptyObject InvalidReason = "empty_object"
	ReasonErrorString InvalidReason = "error_string"
	ReasonUnknown     InvalidReason = "unknown"
)

// IsProblematic is the cache-poisoning guard: ok=false means the result
// is safe to cache. Matching is case-sensitive; the literal lowercase
// substrings are matched against the raw string as-is.
func IsProblematic(result json.RawMessage) (InvalidReason, bool) {
	trimmed := trimJSONWhitespace(result)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return ReasonNullResult, true
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return ReasonUnknown, true
	}

	switch t := v.(type) {
	case nil:
		return ReasonNullResult, true
	case []any:
		if len(t) == 0 {
			return ReasonEmptyArray, true
		}
	case map[string]any:
		if len(t) == 0 {
			return ReasonEmptyObject, true
		}
	case string:
		for _, needle := range []string{"error", "not found", "unavailable"} {
			if strings.Contains(t, needle) {
				return ReasonErrorString, true
			}
		}
	}
	return "", false
}
