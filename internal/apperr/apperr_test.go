package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublicHidesInternalDetail(t *testing.T) {
	err := Internal(errors.New("pq: password authentication failed for user railgate"), "load client")
	body := Public(err)
	assert.Equal(t, CodeServerError, body.Error)
	assert.NotContains(t, body.ErrorDescription, "pq")
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
}

func TestUnknownErrorsBecomeServerError(t *testing.T) {
	err := fmt.Errorf("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, CodeServerError, Public(err).Error)
}

func TestGrantErrorsShareWireShape(t *testing.T) {
	expired := ErrInvalidGrant.WithReason("expired")
	consumed := ErrInvalidGrant.WithReason("consumed")

	assert.Equal(t, Public(expired), Public(consumed))
	assert.True(t, errors.Is(expired, ErrInvalidGrant))
	assert.Contains(t, expired.Error(), "expired")
}

func TestHTTPStatusByKind(t *testing.T) {
	wrapped := fmt.Errorf("wrapped: %w", ErrConflict)
	cases := map[error]int{
		ErrInvalidRequest:        http.StatusBadRequest,
		ErrInvalidScope:          http.StatusBadRequest,
		ErrInvalidClient:         http.StatusUnauthorized,
		ErrInvalidCredentials:    http.StatusUnauthorized,
		ErrInvalidGrant:          http.StatusBadRequest,
		RateLimited(time.Second): http.StatusTooManyRequests,
		ErrForbidden:             http.StatusForbidden,
		ErrNotFound:              http.StatusNotFound,
		wrapped:                  http.StatusConflict,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := Internal(cause, "store")
	assert.ErrorIs(t, err, cause)
}
