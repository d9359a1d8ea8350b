package pharmadesk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/putto11262002/pharmadesk/core"
	"github.com/putto11262002/pharmadesk/pkg/router"
)

type AuthHandler struct {
	store     core.AuthStore
	userStore core.UserStore
	secure    bool
}

func NewAuthHandler(store core.AuthStore, userStore core.UserStore, secure bool) *AuthHandler {
	return &AuthHandler{store: store, userStore: userStore, secure: secure}
}

type SigninPayload struct {
	Phone    string `json:"phone" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) SigninHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SigninPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid input")
	}
	defer r.Body.Close()

	if err := validate.Struct(payload); err != nil {
		return router.NewJsonError(http.StatusBadRequest, "invalid input")
	}

	session, err := h.store.NewSession(r.Context(), payload.Phone, payload.Password)
	if err != nil {
		if errors.Is(err, core.ErrBadCredentials) {
			return router.NewJsonError(http.StatusUnauthorized, err.Error())
		}
		return err
	}

	cookie := core.CookieFromSession(*session, true, "/")
	cookie.Secure = h.secure
	http.SetCookie(w, cookie)

	return router.JSON(w, http.StatusOK, session)
}

func (h *AuthHandler) SignoutHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	if err := h.store.DestroySession(r.Context(), session); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     core.AuthCookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Path:     "/",
	})
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *AuthHandler) MeHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	user, err := h.userStore.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		return fmt.Errorf("GetUserByID(%d): %w", session.UserID, err)
	}
	if user == nil {
		return router.NewJsonError(http.StatusNotFound, "user not found")
	}
	return router.JSON(w, http.StatusOK, user)
}
