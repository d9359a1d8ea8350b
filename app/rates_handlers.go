package pharmadesk

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/putto11262002/pharmadesk/pkg/exchange"
	"github.com/putto11262002/pharmadesk/pkg/router"
)

type RatesHandler struct {
	rates *exchange.Service
}

func NewRatesHandler(rates *exchange.Service) *RatesHandler {
	return &RatesHandler{rates: rates}
}

func usdParam(r *http.Request) (float64, bool, error) {
	raw := r.URL.Query().Get("usd")
	if raw == "" {
		return 0, false, nil
	}
	usd, err := strconv.ParseFloat(raw, 64)
	if err != nil || usd < 0 {
		return 0, false, router.NewJsonError(http.StatusBadRequest, "invalid usd amount")
	}
	return usd, true, nil
}

// CryptoHandler returns USD prices, or the converted amounts when usd is given.
func (h *RatesHandler) CryptoHandler(w http.ResponseWriter, r *http.Request) error {
	var symbols []string
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		symbols = strings.Split(raw, ",")
	}
	usd, convert, err := usdParam(r)
	if err != nil {
		return err
	}

	quote, err := h.rates.CryptoRates(r.Context(), symbols)
	if err != nil {
		return router.NewJsonError(http.StatusBadRequest, err.Error())
	}
	if !convert {
		return router.JSON(w, http.StatusOK, quote)
	}

	amounts := make(map[string]exchange.CryptoConversion, len(quote.Prices))
	for symbol, price := range quote.Prices {
		amount, decimals, ok := exchange.CryptoAmount(usd, price, symbol)
		if !ok {
			continue
		}
		amounts[symbol] = exchange.CryptoConversion{Symbol: symbol, Price: price, Amount: amount, Decimals: decimals}
	}
	return router.JSON(w, http.StatusOK, map[string]any{
		"usd_amount": usd,
		"source":     quote.Source,
		"amounts":    amounts,
	})
}

func (h *RatesHandler) IRRHandler(w http.ResponseWriter, r *http.Request) error {
	usd, convert, err := usdParam(r)
	if err != nil {
		return err
	}
	if convert {
		return router.JSON(w, http.StatusOK, h.rates.ToIRR(r.Context(), usd))
	}
	return router.JSON(w, http.StatusOK, h.rates.USDToIRR(r.Context()))
}
