// Package jsonrpc defines the JSON-RPC 2.0 request/response envelopes and
// the canonical fingerprinting, cacheability, and archive-fallback policy
// tables the pipeline is built on.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Params is a tagged variant over JSON-RPC's three legal params shapes:
// absent, positional array, or named object. Methods on Params must be
// total so fingerprinting never panics on a well-formed request.
type Params struct {
	kind ParamsKind
	list []json.RawMessage
	byN  map[string]json.RawMessage
	raw  json.RawMessage
}

type ParamsKind int

const (
	ParamsAbsent ParamsKind = iota
	ParamsList
	ParamsByName
)

func (p Params) Kind() ParamsKind { return p.kind }

// Len returns the number of positional params, or 0 if not a list.
func (p Params) Len() int { return len(p.list) }

// At returns the raw JSON of the i-th positional param, or nil if out of range.
func (p Params) At(i int) json.RawMessage {
	if i < 0 || i >= len(p.list) {
		return nil
	}
	return p.list[i]
}

// AtString returns the i-th positional param decoded as a Go string, or
// "" with ok=false if it is absent or not a JSON string.
func (p Params) AtString(i int) (string, bool) {
	raw := p.At(i)
	if raw == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// AtObject returns the i-th positional param decoded as a generic object,
// or nil if it is absent or not a JSON object.
func (p Params) AtObject(i int) map[string]json.RawMessage {
	raw := p.At(i)
	if raw == nil {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// Raw returns the exact bytes that were unmarshalled into this Params,
// suitable for canonical re-serialization.
func (p Params) Raw() json.RawMessage { return p.raw }

// WithAt returns a copy of p with its i-th positional param replaced by
// raw. Used by block-tag normalization to rewrite "latest" to a
// concrete hex block number without mutating the original request.
func (p Params) WithAt(i int, raw json.RawMessage) Params {
	if p.kind != ParamsList || i < 0 || i >= len(p.list) {
		return p
	}
	newList := make([]json.RawMessage, len(p.list))
	copy(newList, p.list)
	newList[i] = raw
	out := Params{kind: ParamsList, list: newList}
	rawJSON, err := json.Marshal(newList)
	if err == nil {
		out.raw = rawJSON
	}
	return out
}

func (p *Params) UnmarshalJSON(data []byte) error {
	trimmed := trimJSONWhitespace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		p.kind = ParamsAbsent
		return nil
	}
	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("params: invalid array: %w", err)
		}
		p.kind = ParamsList
		p.list = list
		p.raw = trimmed
		return nil
	case '{':
		var byN map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &byN); err != nil {
			return fmt.Errorf("params: invalid object: %w", err)
		}
		p.kind = ParamsByName
		p.byN = byN
		p.raw = trimmed
		return nil
	default:
		return fmt.Errorf("params: must be array, object, or absent")
	}
}

func (p Params) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case ParamsList:
		if p.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(p.list)
	case ParamsByName:
		return json.Marshal(p.byN)
	default:
		return []byte("[]"), nil
	}
}

func trimJSONWhitespace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isJSONSpace(b[start]) {
		start++
	}
	for end > start && isJSONSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// ID is a tagged variant over the three legal JSON-RPC id shapes (string,
// number, null) plus "absent", which marks a notification.
type ID struct {
	present bool
	raw     json.RawMessage
}

func (id ID) Present() bool       { return id.present }
func (id ID) Raw() json.RawMessage { return id.raw }

func (id *ID) UnmarshalJSON(data []byte) error {
	id.present = true
	id.raw = append(json.RawMessage{}, data...)
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	if !id.present || id.raw == nil {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// Request is a single JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  Params `json:"params,omitempty"`
	ID      ID     `json:"id,omitempty"`
}

// IsNotification reports whether the request omitted "id".
func (r Request) IsNotification() bool { return !r.ID.Present() }

// Error is the JSON-RPC error object; it also satisfies the error interface
// so pipeline code can return it directly.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeUpstreamError  = -32000
)

// ErrUpstream builds the transport-error envelope returned when a call to
// the upstream fails outright.
func ErrUpstream(cause error) *Error {
	return &Error{Code: CodeUpstreamError, Message: "Upstream error", Data: cause.Error()}
}

// ErrInternal builds the generic internal-error envelope. No upstream
// or internal detail is ever attached, so callers can't learn anything
// about the failure beyond its class.
func ErrInternal() *Error {
	return &Error{Code: CodeInternalError, Message: "Internal error"}
}

// ErrUnavailable is returned when the circuit breaker for network is
// open. It shares CodeUpstreamError since a breaker rejection is a
// transport-level failure from the caller's perspective, just one
// detected locally instead of by the upstream call itself.
func ErrUnavailable(network string) *Error {
	return &Error{Code: CodeUpstreamError, Message: fmt.Sprintf("upstream_unavailable: network %q circuit open", network)}
}

// Response is a single JSON-RPC 2.0 response object. Exactly one of Result
// or Error is populated on the wire; both are left as raw JSON so the
// pipeline can pass upstream bodies through without re-encoding them.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      ID              `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// WithID returns a copy of r with the id swapped to the caller's id,
// used after a cache hit or coalesced wait, where the stored/shared
// response may carry a different id than the current caller's request.
func (r Response) WithID(id ID) Response {
	r.ID = id
	return r
}

// NewErrorResponse builds an error Response envelope.
func NewErrorResponse(id ID, err *Error) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: err}
}

// NewResultResponse builds a success Response envelope from a raw result.
func NewResultResponse(id ID, result json.RawMessage) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// IsNull reports whether the result is JSON null (vs. absent, vs. a value).
func (r Response) IsNull() bool {
	return r.Error == nil && (len(r.Result) == 0 || string(trimJSONWhitespace(r.Result)) == "null")
}

// Outcome pairs a Response with the cache status that produced it, so
// callers at the HTTP boundary can label metrics by cache behavior
// without re-deriving it from the response body. CacheStatus is one of
// "hit", "miss", "coalesced", or "error" (the pipeline failed before
// cache classification ran, e.g. an unknown network or a fingerprinting
// failure).
type Outcome struct {
	Response    Response
	CacheStatus string
}
