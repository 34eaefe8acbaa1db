package ledger

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hashA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	hashC = "0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	hashD = "0xdddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd"
)

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{WithdrawHash: common.HexToHash(hashA), BundleHash: common.HexToHash(hashB), RecordedAt: at},
		{WithdrawHash: common.HexToHash(hashC), BundleHash: common.HexToHash(hashD)},
	}

	data, err := Encode(entries)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version":1`)

	got := Decode(data)
	require.Len(t, got, 2)
	assert.Equal(t, entries[0].WithdrawHash, got[0].WithdrawHash)
	assert.True(t, at.Equal(got[0].RecordedAt))
	assert.Equal(t, entries[1].BundleHash, got[1].BundleHash)
}

func TestEncode_EmptyList(t *testing.T) {
	data, err := Encode(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"entries":[]}`, string(data))
}

func TestDecode_LegacyArray(t *testing.T) {
	got := Decode([]byte(`["` + hashA + `:` + hashB + `","` + hashC + `:` + hashD + `"]`))
	require.Len(t, got, 2)
	assert.Equal(t, common.HexToHash(hashA), got[0].WithdrawHash)
	assert.Equal(t, common.HexToHash(hashB), got[0].BundleHash)
	assert.Equal(t, common.HexToHash(hashC), got[1].WithdrawHash)
	assert.True(t, got[1].RecordedAt.IsZero())
}

func TestDecode_LegacyFlaggedArray(t *testing.T) {
	got := Decode([]byte(`["` + hashA + `:false:` + hashB + `","` + hashC + `:true:` + hashD + `"]`))
	require.Len(t, got, 2)
	assert.Equal(t, common.HexToHash(hashA), got[0].WithdrawHash)
	assert.Equal(t, common.HexToHash(hashB), got[0].BundleHash)
	assert.Equal(t, common.HexToHash(hashC), got[1].WithdrawHash)
	assert.Equal(t, common.HexToHash(hashD), got[1].BundleHash)
}

func TestDecode_FailSafe(t *testing.T) {
	cases := map[string]string{
		"empty":              ``,
		"not json":           `latestAaveZKsyncDeposits`,
		"truncated":          `["` + hashA,
		"number":             `42`,
		"future version":     `{"version":2,"entries":[]}`,
		"missing version":    `{"entries":[{"withdrawHash":"` + hashA + `","bundleHash":"` + hashB + `"}]}`,
		"one hash only":      `["` + hashA + `"]`,
		"flag in last place": `["` + hashA + `:` + hashB + `:true"]`,
		"unknown flag":       `["` + hashA + `:maybe:` + hashB + `"]`,
		"short hash":         `["0x1234:` + hashB + `"]`,
		"non hex":            `["0xzzaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa:` + hashB + `"]`,
		"zero hash":          `["0x0000000000000000000000000000000000000000000000000000000000000000:` + hashB + `"]`,
		"entry missing hash": `{"version":1,"entries":[{"withdrawHash":"` + hashA + `"}]}`,
		"bad recordedAt":     `{"version":1,"entries":[{"withdrawHash":"` + hashA + `","bundleHash":"` + hashB + `","recordedAt":"yesterday"}]}`,
		"mixed array":        `["` + hashA + `:` + hashB + `", 7]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, Decode([]byte(raw)))
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Borrow ")
	require.NoError(t, err)
	assert.Equal(t, KindBorrow, k)

	_, err = ParseKind("withdraw")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
