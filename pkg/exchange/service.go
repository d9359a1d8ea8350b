package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	cryptoKey     = "crypto:usd"
	cryptoLastKey = "crypto:usd:last"
	irrKey        = "irr:usd"

	CryptoTTL     = 60 * time.Second
	CryptoLastTTL = 300 * time.Second
	IRRTTL        = 15 * time.Minute

	SourceLive    = "coingecko"
	SourceLast    = "last"
	SourceDefault = "default"
)

// PriceFeed returns USD prices keyed by crypto symbol.
type PriceFeed interface {
	Prices(ctx context.Context) (map[string]float64, error)
}

// CryptoQuote holds USD prices and where they came from.
type CryptoQuote struct {
	Prices    map[string]float64 `json:"prices"`
	Source    string             `json:"source"`
	FetchedAt time.Time          `json:"fetched_at"`
}

type IRRQuote struct {
	IRRAmount int64      `json:"irr_amount"`
	USDAmount float64    `json:"usd_amount"`
	Rate      float64    `json:"rate"`
	Provider  string     `json:"provider"`
	FetchedAt *time.Time `json:"fetched_at"`
}

type CryptoConversion struct {
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Amount   float64 `json:"amount"`
	Decimals int     `json:"decimals"`
}

type Service struct {
	prices    PriceFeed
	providers []IRRProvider
	store     RateStore
	cache     Cache
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithPriceFeed(p PriceFeed) Option {
	return func(s *Service) {
		s.prices = p
	}
}

// WithIRRProviders sets the providers tried in order before the stored rate.
func WithIRRProviders(providers ...IRRProvider) Option {
	return func(s *Service) {
		s.providers = providers
	}
}

func WithRateStore(store RateStore) Option {
	return func(s *Service) {
		s.store = store
	}
}

func WithCache(c Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewMemoryCache(s.now)
	}
	return s
}

func (s *Service) cacheGet(ctx context.Context, key string, out any) bool {
	ok, err := s.cache.Get(ctx, key, out)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("cache get %s: %v", key, err))
		return false
	}
	return ok
}

func (s *Service) cacheSet(ctx context.Context, key string, value any, ttl time.Duration) {
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn(fmt.Sprintf("cache set %s: %v", key, err))
	}
}

// CryptoRates returns the USD price of the symbols. It never fails for
// known symbols: the last good quote and then the default table stand in
// for an unavailable upstream.
func (s *Service) CryptoRates(ctx context.Context, symbols []string) (*CryptoQuote, error) {
	symbols, err := NormalizeSymbols(symbols)
	if err != nil {
		return nil, err
	}
	quote := s.cryptoQuote(ctx)

	selected := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		selected[symbol] = quote.Prices[symbol]
	}
	return &CryptoQuote{Prices: selected, Source: quote.Source, FetchedAt: quote.FetchedAt}, nil
}

func (s *Service) cryptoQuote(ctx context.Context) CryptoQuote {
	var quote CryptoQuote
	if s.cacheGet(ctx, cryptoKey, &quote) {
		return quote
	}

	if s.prices != nil {
		prices, err := s.prices.Prices(ctx)
		if err == nil {
			defaults := DefaultPrices()
			for symbol, v := range defaults {
				if _, ok := prices[symbol]; !ok {
					prices[symbol] = v
				}
			}
			quote = CryptoQuote{Prices: prices, Source: SourceLive, FetchedAt: s.now()}
			s.cacheSet(ctx, cryptoKey, quote, CryptoTTL)
			s.cacheSet(ctx, cryptoLastKey, quote, CryptoLastTTL)
			return quote
		}
		s.logger.Error(fmt.Sprintf("fetching crypto prices: %v", err))
	}

	if s.cacheGet(ctx, cryptoLastKey, &quote) {
		quote.Source = SourceLast
		return quote
	}
	return CryptoQuote{Prices: DefaultPrices(), Source: SourceDefault, FetchedAt: s.now()}
}

// ToCrypto converts a USD amount into the symbol at the current price.
func (s *Service) ToCrypto(ctx context.Context, usd float64, symbol string) (*CryptoConversion, error) {
	quote, err := s.CryptoRates(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	for sym, price := range quote.Prices {
		amount, decimals, ok := CryptoAmount(usd, price, sym)
		if !ok {
			return nil, fmt.Errorf("no usable price for %s", sym)
		}
		return &CryptoConversion{Symbol: sym, Price: price, Amount: amount, Decimals: decimals}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

// USDToIRR returns the rial rate. Live providers are tried in order, then the
// last stored rate, then FallbackIRR.
func (s *Service) USDToIRR(ctx context.Context) Rate {
	var rate Rate
	if s.cacheGet(ctx, irrKey, &rate) {
		return rate
	}

	live, err := s.RefreshIRR(ctx)
	if err == nil {
		return *live
	}
	s.logger.Warn(fmt.Sprintf("refreshing rial rate: %v", err))

	if s.store != nil {
		stored, err := s.store.Latest(ctx, USD, IRR)
		if err != nil {
			s.logger.Error(err.Error())
		} else if stored != nil {
			stored.Provider = ProviderDatabase
			s.cacheSet(ctx, irrKey, stored, IRRTTL)
			return *stored
		}
	}

	return Rate{From: USD, To: IRR, Value: FallbackIRR, Provider: ProviderFallback}
}

var ErrNoProvider = errors.New("no rial rate provider answered")

// RefreshIRR asks the live providers only. The first answer is cached and saved.
func (s *Service) RefreshIRR(ctx context.Context) (*Rate, error) {
	var errs []error
	for _, p := range s.providers {
		v, err := p.USDToIRR(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}

		rate := Rate{From: USD, To: IRR, Value: v, Provider: p.Name(), FetchedAt: s.now().UTC()}
		s.cacheSet(ctx, irrKey, rate, IRRTTL)
		if s.store != nil {
			if err := s.store.Save(ctx, rate); err != nil {
				s.logger.Error(fmt.Sprintf("saving rial rate: %v", err))
			}
		}
		return &rate, nil
	}
	return nil, errors.Join(append([]error{ErrNoProvider}, errs...)...)
}

// ToIRR converts a USD amount to rials rounded to the nearest thousand.
func (s *Service) ToIRR(ctx context.Context, usd float64) IRRQuote {
	rate := s.USDToIRR(ctx)
	quote := IRRQuote{
		IRRAmount: RoundIRR(usd, rate.Value),
		USDAmount: usd,
		Rate:      rate.Value,
		Provider:  rate.Provider,
	}
	if !rate.FetchedAt.IsZero() {
		fetchedAt := rate.FetchedAt
		quote.FetchedAt = &fetchedAt
	}
	return quote
}
