package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("checking out: %w", InvalidTransition("DRL-01", "Outside", "is already checked out"))

	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NotErrorIs(t, err, ErrNotFound)

	e, ok := As(err)
	require.True(t, ok)
	require.Equal(t, "Outside", e.CurrentStatus)
}

func TestKindOf(t *testing.T) {
	require.Equal(t, KindNotFound, KindOf(New(KindNotFound, "item %s not found", "X")))
	require.Equal(t, KindInternal, KindOf(errors.New("boom")))
	require.Empty(t, KindOf(nil))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindBusy, cause, "item %s", "A")
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, ErrBusy)
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindValidation:         http.StatusBadRequest,
		KindWeakPassword:       http.StatusBadRequest,
		KindInvalidCredentials: http.StatusUnauthorized,
		KindUnauthorized:       http.StatusUnauthorized,
		KindForbidden:          http.StatusForbidden,
		KindNotFound:           http.StatusNotFound,
		KindDuplicateCode:      http.StatusConflict,
		KindInvalidTransition:  http.StatusConflict,
		KindConflict:           http.StatusConflict,
		KindBusy:               http.StatusServiceUnavailable,
		KindRateLimited:        http.StatusTooManyRequests,
		KindInternal:           http.StatusInternalServerError,
	}
	for kind, want := range tests {
		require.Equal(t, want, HTTPStatus(kind), kind)
	}
}
