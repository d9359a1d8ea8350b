package core

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/putto11262002/pharmadesk/pkg/router"
)

const (
	AuthCookieName    = "auth_token"
	VisitorCookieName = "chat_session"

	sessionKey contextKey = "session"
	visitorKey contextKey = "visitor"
)

type contextKey string

func contextWithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// SessionFromContext returns the authenticated session, if any.
func SessionFromContext(ctx context.Context) (Session, bool) {
	session, ok := ctx.Value(sessionKey).(Session)
	return session, ok
}

// SessionFromRequest extracts the session from the request context.
// It must be called in handlers that are protected by the JWTMiddleware.
// It panics if the session is not found in the request context.
func SessionFromRequest(r *http.Request) Session {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		panic("session not found in request context: call this function in handlers that are protected by JWTMiddleware")
	}
	return session
}

// PrincipalFromRequest returns the session attached by OptionalAuthMiddleware
// or nil for anonymous requests.
func PrincipalFromRequest(r *http.Request) *Session {
	session, ok := SessionFromContext(r.Context())
	if !ok {
		return nil
	}
	return &session
}

func CookieFromSession(session Session, httpOnly bool, path string) *http.Cookie {
	return &http.Cookie{
		Name:     AuthCookieName,
		Value:    session.Token,
		Expires:  session.ExpiresAt,
		HttpOnly: httpOnly,
		Path:     path,
		SameSite: http.SameSiteLaxMode,
	}
}

func sessionFromCookie(r *http.Request, a AuthStore) (*Session, error) {
	cookie, err := r.Cookie(AuthCookieName)
	if err != nil || cookie.Valid() != nil {
		return nil, ErrUnauthenticated
	}
	return a.Session(r.Context(), cookie.Value)
}

// JWTMiddleware extracts the JWT token from the request and validates it and attaches the session to the request context.
// The session is gaurenteed to be attached to the request context if the JWT token is valid for subsequent handlers.
func JWTMiddleware(a AuthStore) router.Middleware {
	return func(next http.Handler) router.HandlerFunc {
		authErr := router.NewJsonError(http.StatusUnauthorized, "unauthenticated")

		return func(w http.ResponseWriter, r *http.Request) error {
			session, err := sessionFromCookie(r, a)
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					return authErr
				}
				return err
			}

			next.ServeHTTP(w, r.WithContext(contextWithSession(r.Context(), *session)))
			return nil
		}
	}
}

// OptionalAuthMiddleware attaches the session when the request carries a valid
// token and lets anonymous requests through untouched.
func OptionalAuthMiddleware(a AuthStore) router.Middleware {
	return func(next http.Handler) router.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			session, err := sessionFromCookie(r, a)
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					next.ServeHTTP(w, r)
					return nil
				}
				return err
			}

			next.ServeHTTP(w, r.WithContext(contextWithSession(r.Context(), *session)))
			return nil
		}
	}
}

// StaffOnly must be mounted after JWTMiddleware.
func StaffOnly() router.Middleware {
	return func(next http.Handler) router.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			session, ok := SessionFromContext(r.Context())
			if !ok {
				return router.NewJsonError(http.StatusUnauthorized, "unauthenticated")
			}
			if !session.IsStaff {
				return router.NewJsonError(http.StatusForbidden, ErrUnauthorized.Error())
			}
			next.ServeHTTP(w, r)
			return nil
		}
	}
}

// VisitorSession is the anonymous session token of a visitor.
// Fresh is set when the token was minted for this request and still has to
// be handed to the client.
type VisitorSession struct {
	Key   string
	Fresh bool
}

func (v VisitorSession) Cookie() *http.Cookie {
	return &http.Cookie{
		Name:     VisitorCookieName,
		Value:    v.Key,
		Path:     "/",
		MaxAge:   60 * 60 * 24 * 14,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// VisitorSessionMiddleware makes sure every request has an anonymous session
// token, minting one lazily when the visitor has none.
func VisitorSessionMiddleware() router.Middleware {
	return func(next http.Handler) router.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			visitor := VisitorSession{}
			if cookie, err := r.Cookie(VisitorCookieName); err == nil && cookie.Value != "" {
				visitor.Key = cookie.Value
			} else {
				visitor.Key = uuid.NewString()
				visitor.Fresh = true
				http.SetCookie(w, visitor.Cookie())
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), visitorKey, visitor)))
			return nil
		}
	}
}

func VisitorFromRequest(r *http.Request) (VisitorSession, bool) {
	visitor, ok := r.Context().Value(visitorKey).(VisitorSession)
	return visitor, ok
}
