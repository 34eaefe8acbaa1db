package alchemy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLatestPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prices/v1/test-key/tokens/by-symbol", r.URL.Path)
		assert.Equal(t, "ETH", r.URL.Query().Get("symbols"))
		w.Write([]byte(`{"data":[{"symbol":"ETH","prices":[{"currency":"usd","value":"3912.4471","lastUpdatedAt":"2025-01-01T00:00:00Z"}]}]}`))
	}))
	defer srv.Close()

	p := NewProvider("test-key", zap.NewNop().Sugar(), WithBaseURL(srv.URL))
	price, err := p.LatestPrice(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, "3912.4471", price.String())
	assert.True(t, p.Health().Healthy)
}

func TestLatestPrice_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"server error", http.StatusInternalServerError, `oops`, nil},
		{"no data", http.StatusOK, `{"data":[]}`, ErrPriceNotFound},
		{"no prices", http.StatusOK, `{"data":[{"symbol":"ETH","prices":[]}]}`, ErrPriceNotFound},
		{"non numeric", http.StatusOK, `{"data":[{"symbol":"ETH","prices":[{"value":"n/a"}]}]}`, ErrPriceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewProvider("k", zap.NewNop().Sugar(), WithBaseURL(srv.URL))
			_, err := p.LatestPrice(context.Background(), "ETH")
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.False(t, p.Health().Healthy)
		})
	}
}

func TestLatestPrice_MissingKey(t *testing.T) {
	p := NewProvider("", zap.NewNop().Sugar())
	_, err := p.LatestPrice(context.Background(), "ETH")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestLatestPrice_BreakerOpens(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewProvider("k", zap.NewNop().Sugar(), WithBaseURL(srv.URL))
	for i := 0; i < 8; i++ {
		_, err := p.LatestPrice(context.Background(), "ETH")
		require.Error(t, err)
	}
	assert.Equal(t, 5, calls)
}
