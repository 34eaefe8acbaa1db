package crosschain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalizePayloadRequest(t *testing.T) {
	tests := []struct {
		name    string
		payload FinalizePayload
		want    FinalizeRequest
		wantErr bool
	}{
		{
			name:    "legacy hash",
			payload: FinalizePayload{Hash: withdrawHash.Hex()},
			want:    FinalizeRequest{WithdrawHash: withdrawHash},
		},
		{
			name:    "pair",
			payload: FinalizePayload{WithdrawHash: withdrawHash.Hex(), BundleHash: bundleHash.Hex()},
			want:    FinalizeRequest{WithdrawHash: withdrawHash, BundleHash: bundleHash},
		},
		{
			name:    "withdrawHash wins",
			payload: FinalizePayload{Hash: bundleHash.Hex(), WithdrawHash: withdrawHash.Hex()},
			want:    FinalizeRequest{WithdrawHash: withdrawHash},
		},
		{name: "missing", payload: FinalizePayload{}, wantErr: true},
		{name: "short", payload: FinalizePayload{Hash: "0xabc"}, wantErr: true},
		{name: "not hex", payload: FinalizePayload{Hash: "hello"}, wantErr: true},
		{name: "zero", payload: FinalizePayload{Hash: "0x0000000000000000000000000000000000000000000000000000000000000000"}, wantErr: true},
		{name: "bad bundle", payload: FinalizePayload{Hash: withdrawHash.Hex(), BundleHash: "0x12"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.payload.Request()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFinalizePayloadBody(t *testing.T) {
	body, err := NewFinalizePayload(FinalizeRequest{WithdrawHash: withdrawHash}).Body()
	require.NoError(t, err)
	assert.JSONEq(t, `{"withdrawHash":"`+withdrawHash.Hex()+`"}`, string(body))

	var p FinalizePayload
	body, err = NewFinalizePayload(FinalizeRequest{WithdrawHash: withdrawHash, BundleHash: bundleHash}).Body()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &p))
	req, err := p.Request()
	require.NoError(t, err)
	assert.Equal(t, bundleHash, req.BundleHash)
}
