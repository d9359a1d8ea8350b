// Package exchange provides the crypto and rial exchange rates shown at
// checkout, with caching and a chain of fallbacks so that a quote is always
// available.
package exchange

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	USD = "USD"
	IRR = "IRR"

	// FallbackIRR is used when no provider answered and nothing is stored.
	FallbackIRR = 117000

	ProviderFallback = "fallback"
	ProviderDatabase = "database"
)

var ErrUnknownSymbol = errors.New("unknown crypto symbol")

// Rate is a single conversion rate as fetched from a provider.
type Rate struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Value     float64   `json:"rate"`
	Provider  string    `json:"provider"`
	FetchedAt time.Time `json:"fetched_at"`
}

type cryptoInfo struct {
	// CoinGecko ids in order of preference
	ids      []string
	fallback float64
	decimals int
}

var cryptos = map[string]cryptoInfo{
	"BTC":  {ids: []string{"bitcoin"}, fallback: 60000, decimals: 8},
	"ETH":  {ids: []string{"ethereum"}, fallback: 3000, decimals: 6},
	"TRX":  {ids: []string{"tron"}, fallback: 0.1, decimals: 6},
	"USDT": {ids: []string{"tether"}, fallback: 1, decimals: 6},
	"BNB":  {ids: []string{"binancecoin"}, fallback: 500, decimals: 6},
	"TON":  {ids: []string{"toncoin", "the-open-network"}, fallback: 2.5, decimals: 6},
	"SOL":  {ids: []string{"solana"}, fallback: 200, decimals: 6},
	"DOGE": {ids: []string{"dogecoin"}, fallback: 0.3, decimals: 8},
}

// Symbols returns every supported crypto symbol in display order.
func Symbols() []string {
	return []string{"BTC", "ETH", "TRX", "USDT", "BNB", "TON", "SOL", "DOGE"}
}

// NormalizeSymbols upper-cases symbols and rejects unknown ones.
// An empty list selects every supported symbol.
func NormalizeSymbols(symbols []string) ([]string, error) {
	if len(symbols) == 0 {
		return Symbols(), nil
	}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := cryptos[s]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, s)
		}
		out = append(out, s)
	}
	return out, nil
}

// DefaultPrices returns the static USD price table.
func DefaultPrices() map[string]float64 {
	prices := make(map[string]float64, len(cryptos))
	for symbol, info := range cryptos {
		prices[symbol] = info.fallback
	}
	return prices
}

// Decimals is the display precision of the symbol.
func Decimals(symbol string) int {
	if info, ok := cryptos[symbol]; ok {
		return info.decimals
	}
	return 6
}

// RoundIRR converts usd to rials and rounds to the nearest thousand, ties to even.
func RoundIRR(usd, rate float64) int64 {
	return int64(math.RoundToEven(usd*rate/1000) * 1000)
}

// CryptoAmount converts usd into the symbol at price, rounded to the
// display precision. ok is false when the price is not usable.
func CryptoAmount(usd, price float64, symbol string) (amount float64, decimals int, ok bool) {
	if price <= 0 {
		return 0, 0, false
	}
	decimals = Decimals(symbol)
	scale := math.Pow(10, float64(decimals))
	return math.Round(usd/price*scale) / scale, decimals, true
}
