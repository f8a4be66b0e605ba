package jsonrpc

import (
	"regexp"
	"strings"
)

// nullResultMethods is the method set eligible for the null-result
// fallback condition. eth_getBlockByNumber only qualifies when pinned to
// a specific hex block number, checked separately in NeedsArchiveFallback.
var nullResultMethods = map[string]bool{
	"eth_getblockbynumber":     true,
	"eth_getlogs":               true,
	"eth_gettransactionreceipt": true,
}

// errorPatterns is the centralized error-substring table. All matching
// is case-insensitive (messages are lowercased before comparison).
var errorPatterns = []string{
	"block not found",
	"transaction not found",
	"receipt not found",
	"logs not found",
	"state not found",
	"data not available",
	"block range not available",
	"historical data not available",
	"only recent blocks available",
	"archive node required",
}

// blockToleranceRegexps is the centralized block-tolerance regexp table,
// only consulted for eth_call with params[1] == "latest". Patterns are
// case-insensitive.
var blockToleranceRegexps = compileAll([]string{
	`block.*returned.*is after.*last block`,
	`non-deterministic error`,
	`block.*is after.*requested range`,
	`block ordering error`,
	`deterministic error`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile("(?i)"+p))
	}
	return out
}

// NeedsArchiveFallback decides whether a primary-upstream response should
// trigger a retry against the archive fallback. method and params describe
// the original request; one of nullResult or errText should be supplied
// depending on how the primary responded (null-result vs. error).
func NeedsArchiveFallback(method string, params Params, nullResult bool, errText string) bool {
	lowerMethod := strings.ToLower(method)

	if nullResult {
		if lowerMethod == "eth_getblockbynumber" {
			tag, ok := params.AtString(0)
			if ok && tag != "latest" && tag != "pending" && isHexString(tag) {
				return true
			}
		} else if nullResultMethods[lowerMethod] {
			return true
		}
	}

	if errText == "" {
		return false
	}
	lowerErr := strings.ToLower(errText)

	for _, pattern := range errorPatterns {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}

	if lowerMethod == "eth_call" {
		if tag, ok := params.AtString(1); ok && tag == "latest" {
			for _, re := range blockToleranceRegexps {
				if re.MatchString(lowerErr) {
					return true
				}
			}
		}
	}

	return false
}

// ArchiveFallbackReason classifies which fallback condition triggered,
// for the rpc_fallback_requests_total{reason} metric.
func ArchiveFallbackReason(method string, params Params, nullResult bool, errText string) string {
	lowerMethod := strings.ToLower(method)
	if nullResult {
		if lowerMethod == "eth_getblockbynumber" {
			if tag, ok := params.AtString(0); ok && tag != "latest" && tag != "pending" && isHexString(tag) {
				return "null_result"
			}
		} else if nullResultMethods[lowerMethod] {
			return "null_result"
		}
	}
	if errText != "" {
		lowerErr := strings.ToLower(errText)
		for _, pattern := range errorPatterns {
			if strings.Contains(lowerErr, pattern) {
				return "error_pattern"
			}
		}
		if lowerMethod == "eth_call" {
			if tag, ok := params.AtString(1); ok && tag == "latest" {
				for _, re := range blockToleranceRegexps {
					if re.MatchString(lowerErr) {
						return "block_tolerance"
					}
				}
			}
		}
	}
	return "none"
}
