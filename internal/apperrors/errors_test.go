package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	t.Run("extracts the code", func(t *testing.T) {
		require.Equal(t, ErrCodeConflict, CodeOf(New(ErrCodeConflict, "taken")))
	})

	t.Run("sees through wrapping", func(t *testing.T) {
		inner := NotFound("approval_rule", "rule-1")
		wrapped := fmt.Errorf("evaluating: %w", inner)
		require.Equal(t, ErrCodeNotFound, CodeOf(wrapped))
	})

	t.Run("unclassified errors are internal", func(t *testing.T) {
		require.Equal(t, ErrCodeInternal, CodeOf(errors.New("boom")))
	})
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		InvalidInput("amount", "must be positive"):  http.StatusBadRequest,
		NotFound("company", "comp-1"):               http.StatusNotFound,
		New(ErrCodeConflict, "duplicate"):           http.StatusConflict,
		New(ErrCodeForbidden, "not yours"):          http.StatusForbidden,
		errors.New("boom"):                          http.StatusInternalServerError,
		Wrap(errors.New("io"), ErrCodeInternal, ""): http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, ErrCodeInternal, "failed to query")
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "failed to query")
	require.Contains(t, err.Error(), "connection refused")
}
