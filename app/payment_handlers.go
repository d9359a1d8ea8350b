package pharmadesk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/putto11262002/pharmadesk/pkg/payment"
	"github.com/putto11262002/pharmadesk/pkg/router"
)

type PaymentHandler struct {
	verifier *payment.Verifier
}

func NewPaymentHandler(v *payment.Verifier) *PaymentHandler {
	return &PaymentHandler{verifier: v}
}

type VerifyPayload struct {
	Network string    `json:"network" validate:"required"`
	Address string    `json:"address" validate:"required"`
	Amount  float64   `json:"amount" validate:"gt=0"`
	Since   time.Time `json:"since"`
}

func (h *PaymentHandler) VerifyHandler(w http.ResponseWriter, r *http.Request) error {
	var payload VerifyPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid input")
	}
	defer r.Body.Close()

	if err := validate.Struct(payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid input")
	}
	network, err := payment.ParseNetwork(payload.Network)
	if err != nil {
		return router.NewJsonError(http.StatusBadRequest, err.Error())
	}

	res, err := h.verifier.Verify(r.Context(), payment.Check{
		Network: network,
		Address: payload.Address,
		Amount:  payload.Amount,
		Since:   payload.Since,
	})
	switch {
	case errors.Is(err, payment.ErrInvalidAddress), errors.Is(err, payment.ErrInvalidCheck):
		return router.NewJsonError(http.StatusBadRequest, err.Error())
	case err != nil:
		// the mapped response hides the upstream detail, the log keeps it
		return fmt.Errorf("%w: %v", router.NewJsonErrorf(http.StatusBadGateway, "%s explorer unavailable", network), err)
	}
	return router.JSON(w, http.StatusOK, res)
}
