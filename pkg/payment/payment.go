// Package payment looks up incoming crypto transfers on public block
// explorers to confirm that an order was paid.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/putto11262002/pharmadesk/pkg/fetch"
)

type Network string

const (
	TRX  Network = "TRX"
	USDT Network = "USDT"
	BTC  Network = "BTC"
	ETH  Network = "ETH"
	BNB  Network = "BNB"
)

// Tolerance is the share of the expected amount a transfer may fall short by.
const Tolerance = 0.01

var (
	ErrUnsupportedNetwork = errors.New("unsupported network")
	ErrInvalidCheck       = errors.New("invalid payment check")
)

func ParseNetwork(s string) (Network, error) {
	n := Network(strings.ToUpper(strings.TrimSpace(s)))
	switch n {
	case TRX, USDT, BTC, ETH, BNB:
		return n, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedNetwork, s)
}

type Check struct {
	Network Network   `json:"network" validate:"required"`
	Address string    `json:"address" validate:"required"`
	Amount  float64   `json:"amount" validate:"gt=0"`
	Since   time.Time `json:"since"`
}

type Result struct {
	Found  bool    `json:"found"`
	TxID   string  `json:"tx_id,omitempty"`
	Amount float64 `json:"amount,omitempty"`
}

// transfer is an incoming transfer normalised across explorers.
type transfer struct {
	id     string
	amount float64
	at     time.Time
}

func (c Check) accepts(t transfer) bool {
	if !c.Since.IsZero() && !t.at.IsZero() && t.at.Before(c.Since) {
		return false
	}
	return t.amount >= c.Amount*(1-Tolerance)
}

type Endpoints struct {
	TronGrid    string
	BlockCypher string
	Etherscan   string
	BscScan     string
}

var DefaultEndpoints = Endpoints{
	TronGrid:    "https://api.trongrid.io",
	BlockCypher: "https://api.blockcypher.com",
	Etherscan:   "https://api.etherscan.io/api",
	BscScan:     "https://api.bscscan.com/api",
}

type Keys struct {
	TronGrid    []string
	BlockCypher string
	Etherscan   string
	BscScan     []string
}

type Verifier struct {
	client    *fetch.Client
	endpoints Endpoints
	keys      Keys
	logger    *slog.Logger
	rotation  atomic.Uint64
}

type Option func(*Verifier)

func WithEndpoints(e Endpoints) Option {
	return func(v *Verifier) {
		v.endpoints = e
	}
}

func WithKeys(k Keys) Option {
	return func(v *Verifier) {
		v.keys = k
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = l
	}
}

func NewVerifier(client *fetch.Client, opts ...Option) *Verifier {
	v := &Verifier{
		client:    client,
		endpoints: DefaultEndpoints,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports the first incoming transfer to the address that covers the amount.
func (v *Verifier) Verify(ctx context.Context, check Check) (*Result, error) {
	if check.Address == "" || check.Amount <= 0 {
		return nil, ErrInvalidCheck
	}

	var (
		transfers []transfer
		err       error
	)
	switch check.Network {
	case TRX:
		transfers, err = v.tronTransfers(ctx, check.Address)
	case USDT:
		transfers, err = v.trc20Transfers(ctx, check.Address)
	case BTC:
		transfers, err = v.bitcoinTransfers(ctx, check.Address)
	case ETH:
		transfers, err = v.etherscanTransfers(ctx, v.endpoints.Etherscan, v.keys.Etherscan, check.Address)
	case BNB:
		transfers, err = v.etherscanTransfers(ctx, v.endpoints.BscScan, v.pick(v.keys.BscScan), check.Address)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, check.Network)
	}
	if err != nil {
		return nil, fmt.Errorf("%s transfers(%s): %w", check.Network, check.Address, err)
	}
	v.logger.Debug(fmt.Sprintf("%s: %d transfers to %s", check.Network, len(transfers), check.Address))

	for _, t := range transfers {
		if check.accepts(t) {
			return &Result{Found: true, TxID: t.id, Amount: t.amount}, nil
		}
	}
	return &Result{}, nil
}

func (v *Verifier) pick(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[(v.rotation.Add(1)-1)%uint64(len(keys))]
}
