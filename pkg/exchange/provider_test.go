package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/putto11262002/pharmadesk/pkg/fetch"
)

func testClient() *fetch.Client {
	return fetch.New(fetch.WithRetries(0, time.Millisecond))
}

func TestExchangerates(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("access_key")
		mu.Lock()
		seen = append(seen, key)
		mu.Unlock()

		assert.Equal(t, "USD", r.URL.Query().Get("base"))
		assert.Equal(t, "IRR", r.URL.Query().Get("symbols"))
		if key == "expired" {
			w.Write([]byte(`{"success": false, "error": {"code": 101}}`))
			return
		}
		w.Write([]byte(`{"success": true, "rates": {"IRR": 1170000}}`))
	}))
	defer srv.Close()

	p := NewExchangerates(testClient(), srv.URL, []string{"expired", "good"})

	rate, err := p.USDToIRR(context.Background())
	require.Nil(t, err)
	assert.Equal(t, 1170000.0, rate)

	// the working key is remembered
	_, err = p.USDToIRR(context.Background())
	require.Nil(t, err)
	assert.Equal(t, []string{"expired", "good", "good"}, seen)
}

func TestExchangeratesWithoutKeys(t *testing.T) {
	p := NewExchangerates(testClient(), "http://127.0.0.1:0", nil)
	_, err := p.USDToIRR(context.Background())
	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestNavasanFormats(t *testing.T) {
	tests := []struct {
		name string
		body string
		want float64
	}{
		{name: "nested irr", body: `{"usd": {"irr": 1150000}}`, want: 1150000},
		{name: "upper case irr", body: `{"usd": {"IRR": "1,160,000"}}`, want: 1160000},
		{name: "sell value", body: `{"usd_sell": {"value": "117000"}, "usd_buy": {"value": "116000"}}`, want: 117000},
		{name: "buy value", body: `{"usd_buy": {"value": 116500}}`, want: 116500},
		{name: "plain value", body: `{"usd": {"value": "118000"}}`, want: 118000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "k", r.URL.Query().Get("api_key"))
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			rate, err := NewNavasan(testClient(), srv.URL, []string{"k"}).USDToIRR(context.Background())
			require.Nil(t, err)
			assert.Equal(t, tt.want, rate)
		})
	}

	t.Run("unknown shape", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"eur": {"value": "1"}}`))
		}))
		defer srv.Close()

		_, err := NewNavasan(testClient(), srv.URL, []string{"k"}).USDToIRR(context.Background())
		assert.ErrorIs(t, err, ErrUnknownShape)
	})
}

func TestCoinGecko(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "demo", r.Header.Get("x-cg-demo-api-key"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		assert.Contains(t, r.URL.Query().Get("ids"), "the-open-network")
		w.Write([]byte(`{
			"bitcoin": {"usd": 65000},
			"ethereum": {"usd": 3100},
			"the-open-network": {"usd": 5.5}
		}`))
	}))
	defer srv.Close()

	prices, err := NewCoinGecko(testClient(), srv.URL, "demo").Prices(context.Background())
	require.Nil(t, err)
	assert.Equal(t, map[string]float64{"BTC": 65000, "ETH": 3100, "TON": 5.5}, prices)
}
