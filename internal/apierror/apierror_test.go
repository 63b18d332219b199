package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIErrorError(t *testing.T) {
	err := NewAPIError(ErrNotFound, "reveal request not found", nil)
	assert.Equal(t, "NOT_FOUND: reveal request not found", err.Error())
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrNotFound:       http.StatusNotFound,
		ErrConflict:       http.StatusConflict,
		ErrBadRequest:     http.StatusBadRequest,
		ErrInvalidInput:   http.StatusBadRequest,
		ErrUnauthorized:   http.StatusUnauthorized,
		ErrGone:           http.StatusGone,
		ErrInternalServer: http.StatusInternalServerError,
	}

	for code, want := range cases {
		assert.Equal(t, want, MapErrorToHTTPStatus(NewAPIError(code, "x", nil)))
	}

	assert.Equal(t, http.StatusInternalServerError, MapErrorToHTTPStatus(errors.New("plain")))
}
