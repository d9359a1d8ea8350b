package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Rate float64 `json:"rate"`
}

func TestGetJSON(t *testing.T) {
	client := New(WithRetries(3, time.Millisecond))

	t.Run("decodes the body and forwards headers", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "key", r.Header.Get("x-api-key"))
			w.Write([]byte(`{"rate": 1.5}`))
		}))
		defer srv.Close()

		var out payload
		err := client.GetJSON(context.Background(), srv.URL, http.Header{"x-api-key": {"key"}}, &out)
		require.Nil(t, err)
		assert.Equal(t, 1.5, out.Rate)
	})

	t.Run("retries throttled and failed responses", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch calls.Add(1) {
			case 1:
				w.WriteHeader(http.StatusTooManyRequests)
			case 2:
				w.WriteHeader(http.StatusBadGateway)
			default:
				w.Write([]byte(`{"rate": 2}`))
			}
		}))
		defer srv.Close()

		var out payload
		require.Nil(t, client.GetJSON(context.Background(), srv.URL, nil, &out))
		assert.Equal(t, 2.0, out.Rate)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("gives up after the retries", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		err := client.GetJSON(context.Background(), srv.URL, nil, &payload{})
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusServiceUnavailable, se.Code)
		assert.Equal(t, int32(4), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		err := client.GetJSON(context.Background(), srv.URL, nil, &payload{})
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusUnauthorized, se.Code)
		assert.Equal(t, int32(1), calls.Load())
	})
}
