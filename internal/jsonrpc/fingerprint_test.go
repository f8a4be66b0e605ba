package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParams(t *testing.T, raw string) Params {
	var p Params
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

func TestFingerprintIsDeterministic(t *testing.T) {
	params := mustParams(t, `["0xabc", {"b": 2, "a": 1}]`)

	f1, err := Fingerprint("eth", "eth_call", params)
	require.NoError(t, err)
	f2, err := Fingerprint("eth", "eth_call", params)
	require.NoError(t, err)

	assert.Equal(t, f1, f2, "fingerprinting the same request twice must be deterministic")
}

func TestFingerprintKeyOrderIndependence(t *testing.T) {
	a := mustParams(t, `[{"a": 1, "b": 2}]`)
	b := mustParams(t, `[{"b": 2, "a": 1}]`)

	fa, err := Fingerprint("eth", "eth_call", a)
	require.NoError(t, err)
	fb, err := Fingerprint("eth", "eth_call", b)
	require.NoError(t, err)

	assert.Equal(t, fa, fb, "canonical serialization must not depend on object key order")
}

func TestFingerprintDistinguishesNetworksAndMethods(t *testing.T) {
	params := mustParams(t, `["0x1"]`)

	f1, err := Fingerprint("eth", "eth_getBalance", params)
	require.NoError(t, err)
	f2, err := Fingerprint("polygon", "eth_getBalance", params)
	require.NoError(t, err)
	f3, err := Fingerprint("eth", "eth_getCode", params)
	require.NoError(t, err)

	assert.NotEqual(t, f1, f2)
	assert.NotEqual(t, f1, f3)
}

func TestFingerprintAbsentParams(t *testing.T) {
	var p Params
	require.NoError(t, json.Unmarshal([]byte(`[]`), &p))

	f, err := Fingerprint("eth", "eth_blockNumber", p)
	require.NoError(t, err)
	assert.Equal(t, "eth:eth_blockNumber", f)

	var absent Params
	fa, err := Fingerprint("eth", "eth_blockNumber", absent)
	require.NoError(t, err)
	assert.Equal(t, f, fa, "omitted params must fingerprint the same as params: []")
}

func TestFingerprintSingleScalarParam(t *testing.T) {
	p := mustParams(t, `["0xdeadbeef"]`)
	f, err := Fingerprint("eth", "eth_getTransactionByHash", p)
	require.NoError(t, err)
	assert.Equal(t, `eth:eth_getTransactionByHash:0xdeadbeef`, f)
}
