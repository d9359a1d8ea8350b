package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/putto11262002/pharmadesk/pkg/fetch"
)

var (
	ErrNoKeys       = errors.New("no api keys configured")
	ErrUnknownShape = errors.New("unrecognised response")
)

// IRRProvider fetches the USD to IRR rate from one upstream.
type IRRProvider interface {
	Name() string
	USDToIRR(ctx context.Context) (float64, error)
}

// keyRing hands out api keys starting from the last one that worked.
type keyRing struct {
	keys    []string
	current int
	mu      sync.Mutex
}

func (r *keyRing) try(fn func(key string) error) error {
	if len(r.keys) == 0 {
		return ErrNoKeys
	}

	r.mu.Lock()
	start := r.current
	r.mu.Unlock()

	var errs []error
	for i := range r.keys {
		idx := (start + i) % len(r.keys)
		err := fn(r.keys[idx])
		if err == nil {
			r.mu.Lock()
			r.current = idx
			r.mu.Unlock()
			return nil
		}
		errs = append(errs, fmt.Errorf("key %d: %w", idx, err))
	}
	return errors.Join(errs...)
}

const (
	ExchangeratesURL = "https://open.exchangeratesapi.io/v1/latest"
	NavasanURL       = "https://api.navasan.tech/latest/"
	CoinGeckoURL     = "https://api.coingecko.com/api/v3/simple/price"
)

// Exchangerates queries exchangeratesapi.io.
type Exchangerates struct {
	client *fetch.Client
	base   string
	ring   keyRing
}

func NewExchangerates(client *fetch.Client, base string, keys []string) *Exchangerates {
	if base == "" {
		base = ExchangeratesURL
	}
	return &Exchangerates{client: client, base: base, ring: keyRing{keys: keys}}
}

func (p *Exchangerates) Name() string {
	return "exchangeratesapi"
}

type exchangeratesResponse struct {
	Success bool               `json:"success"`
	Rates   map[string]float64 `json:"rates"`
	Error   json.RawMessage    `json:"error"`
}

func (p *Exchangerates) USDToIRR(ctx context.Context) (float64, error) {
	var rate float64
	err := p.ring.try(func(key string) error {
		q := url.Values{"access_key": {key}, "base": {USD}, "symbols": {IRR}}
		var res exchangeratesResponse
		if err := p.client.GetJSON(ctx, p.base+"?"+q.Encode(), nil, &res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("%w: %s", ErrUnknownShape, res.Error)
		}
		v, ok := res.Rates[IRR]
		if !ok || v <= 0 {
			return fmt.Errorf("%w: missing rates.IRR", ErrUnknownShape)
		}
		rate = v
		return nil
	})
	return rate, err
}

// Navasan queries api.navasan.tech, whose payload shape varies between plans.
type Navasan struct {
	client *fetch.Client
	base   string
	ring   keyRing
}

func NewNavasan(client *fetch.Client, base string, keys []string) *Navasan {
	if base == "" {
		base = NavasanURL
	}
	return &Navasan{client: client, base: base, ring: keyRing{keys: keys}}
}

func (p *Navasan) Name() string {
	return "navasan"
}

func (p *Navasan) USDToIRR(ctx context.Context) (float64, error) {
	var rate float64
	err := p.ring.try(func(key string) error {
		q := url.Values{"api_key": {key}}
		var res map[string]json.RawMessage
		if err := p.client.GetJSON(ctx, p.base+"?"+q.Encode(), nil, &res); err != nil {
			return err
		}
		v, err := parseNavasan(res)
		if err != nil {
			return err
		}
		rate = v
		return nil
	})
	return rate, err
}

// navasanPaths lists the accepted payload shapes, most specific first.
var navasanPaths = [][2]string{
	{"usd", "irr"},
	{"usd", "IRR"},
	{"USD", "irr"},
	{"usd_sell", "value"},
	{"usd_buy", "value"},
	{"usd", "value"},
}

func parseNavasan(res map[string]json.RawMessage) (float64, error) {
	for _, path := range navasanPaths {
		raw, ok := res[path[0]]
		if !ok {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		if v, ok := numeric(obj[path[1]]); ok && v > 0 {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: no usd rate", ErrUnknownShape)
}

// numeric accepts JSON numbers and strings such as "1,170,000".
func numeric(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, s)
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// CoinGecko queries the simple price endpoint.
type CoinGecko struct {
	client *fetch.Client
	base   string
	key    string
}

func NewCoinGecko(client *fetch.Client, base, key string) *CoinGecko {
	if base == "" {
		base = CoinGeckoURL
	}
	return &CoinGecko{client: client, base: base, key: key}
}

// Prices returns the USD price of every supported symbol the upstream knows.
func (p *CoinGecko) Prices(ctx context.Context) (map[string]float64, error) {
	var ids []string
	for _, symbol := range Symbols() {
		ids = append(ids, cryptos[symbol].ids...)
	}
	q := url.Values{"ids": {strings.Join(ids, ",")}, "vs_currencies": {"usd"}}

	header := http.Header{}
	if p.key != "" {
		header.Set("x-cg-demo-api-key", p.key)
	}

	var res map[string]map[string]float64
	if err := p.client.GetJSON(ctx, p.base+"?"+q.Encode(), header, &res); err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(cryptos))
	for symbol, info := range cryptos {
		for _, id := range info.ids {
			if v, ok := res[id]["usd"]; ok && v > 0 {
				prices[symbol] = v
				break
			}
		}
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: no prices", ErrUnknownShape)
	}
	return prices, nil
}
