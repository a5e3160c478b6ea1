package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsAppError_Wrapped(t *testing.T) {
	base := NewRangeExhausted("LOT-", 5)
	wrapped := fmt.Errorf("allocate: %w", base)

	appErr, ok := AsAppError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, CodeRangeExhausted, appErr.Code)
	assert.Equal(t, "LOT-", appErr.Details["scope"])
	assert.True(t, Is(wrapped, CodeRangeExhausted))
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", NewInvalidRequest("bad"), http.StatusBadRequest},
		{"exhausted", NewRangeExhausted("x", 1), http.StatusBadRequest},
		{"store", NewStoreUnavailable(errors.New("down")), http.StatusInternalServerError},
		{"conflict", NewConflict("x"), http.StatusConflict},
		{"timeout", NewTimeout("10s"), http.StatusGatewayTimeout},
		{"shutdown", NewShuttingDown(), http.StatusServiceUnavailable},
		{"foreign", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetHTTPStatus(tt.err))
		})
	}
}

func TestAppError_UnwrapCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreUnavailable(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, CodeInternal, Code(cause))
}
