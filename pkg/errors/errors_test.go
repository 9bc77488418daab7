package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Sentinel error identity ---

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrInvalidInput, ErrUnauthorized, ErrForbidden,
		ErrInternal, ErrConflict, ErrServiceUnavail, ErrInsufficientStock, ErrGateway,
		ErrUnprocessable,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

// --- AppError behavior ---

func TestAppError_ErrorString_WithWrappedError(t *testing.T) {
	inner := fmt.Errorf("db connection lost")
	appErr := &AppError{Code: "INTERNAL_ERROR", Message: "something broke", Err: inner}
	assert.Contains(t, appErr.Error(), "INTERNAL_ERROR")
	assert.Contains(t, appErr.Error(), "something broke")
	assert.Contains(t, appErr.Error(), "db connection lost")
}

func TestAppError_ErrorString_WithoutWrappedError(t *testing.T) {
	appErr := &AppError{Code: "NOT_FOUND", Message: "order 7 not found"}
	assert.Equal(t, "NOT_FOUND: order 7 not found", appErr.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	appErr := &AppError{Code: "NOT_FOUND", Message: "nope", Err: ErrNotFound}
	assert.True(t, errors.Is(appErr, ErrNotFound))
}

// --- Constructor functions ---

func TestNotFound(t *testing.T) {
	err := NotFound("order", int64(42))
	require.NotNil(t, err)
	assert.Equal(t, "NOT_FOUND", err.Code)
	assert.Equal(t, "order 42 not found", err.Message)
	assert.Equal(t, http.StatusNotFound, err.Status)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestInvalidInput(t *testing.T) {
	err := InvalidInput("cart is empty")
	assert.Equal(t, "INVALID_INPUT", err.Code)
	assert.Equal(t, http.StatusBadRequest, err.Status)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestConflict(t *testing.T) {
	err := Conflict("order is not paid")
	assert.Equal(t, "CONFLICT", err.Code)
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.True(t, errors.Is(err, ErrConflict))
}

func TestInsufficientStock_NamesProduct(t *testing.T) {
	err := InsufficientStock(3, "Monaco Blue Aviator", 5, 2)
	assert.Equal(t, "INSUFFICIENT_STOCK", err.Code)
	assert.Equal(t, http.StatusConflict, err.Status)
	assert.Contains(t, err.Message, "Monaco Blue Aviator")
	assert.Contains(t, err.Message, "requested 5")
	assert.Contains(t, err.Message, "available 2")
	assert.True(t, errors.Is(err, ErrInsufficientStock))
}

func TestInsufficientStock_WithoutName(t *testing.T) {
	err := InsufficientStock(9, "", 1, 0)
	assert.Contains(t, err.Message, "product 9")
}

func TestGatewayFailure_WrapsCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := GatewayFailure("could not create payment preference", cause)
	assert.Equal(t, http.StatusBadGateway, err.Status)
	assert.True(t, errors.Is(err, ErrGateway))
	assert.True(t, errors.Is(err, cause))
}

func TestUnprocessable(t *testing.T) {
	err := Unprocessable("payment 123 has no external reference")
	assert.Equal(t, http.StatusUnprocessableEntity, err.Status)
	assert.Equal(t, "UNPROCESSABLE", err.Code)
	assert.True(t, errors.Is(err, ErrUnprocessable))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(fmt.Errorf("reconcile: %w", ErrUnprocessable)))
}

func TestGatewayFailure_NilCause(t *testing.T) {
	err := GatewayFailure("gateway said no", nil)
	assert.True(t, errors.Is(err, ErrGateway))
}

func TestServiceUnavailable(t *testing.T) {
	err := ServiceUnavailable("circuit open")
	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
	assert.True(t, errors.Is(err, ErrServiceUnavail))
}

func TestInternal_HidesCause(t *testing.T) {
	cause := fmt.Errorf("pq: relation orders does not exist")
	err := Internal(cause)
	assert.Equal(t, "an internal error occurred", err.Message)
	assert.True(t, errors.Is(err, cause))
}

// --- HTTPStatus mapping ---

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error", Forbidden("not yours"), http.StatusForbidden},
		{"wrapped app error", fmt.Errorf("outer: %w", InsufficientStock(1, "", 2, 1)), http.StatusConflict},
		{"sentinel not found", fmt.Errorf("get: %w", ErrNotFound), http.StatusNotFound},
		{"sentinel stock", ErrInsufficientStock, http.StatusConflict},
		{"sentinel gateway", ErrGateway, http.StatusBadGateway},
		{"sentinel unavailable", ErrServiceUnavail, http.StatusServiceUnavailable},
		{"sentinel unauthorized", ErrUnauthorized, http.StatusUnauthorized},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
