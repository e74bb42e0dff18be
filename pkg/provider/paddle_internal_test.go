package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"
	"github.com/stretchr/testify/assert"
)

func TestClassifyPaddleErr(t *testing.T) {
	t.Parallel()

	t.Run("nil passes through", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, classifyPaddleErr(nil))
	})

	t.Run("request error with not_found code maps to ErrNotFound", func(t *testing.T) {
		t.Parallel()
		err := classifyPaddleErr(&paddleerr.Error{
			Type: paddleerr.ErrorTypeRequestError,
			Code: "subscription_not_found",
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("other request errors map to ErrInvalidRequest", func(t *testing.T) {
		t.Parallel()
		err := classifyPaddleErr(&paddleerr.Error{
			Type: paddleerr.ErrorTypeRequestError,
			Code: "bad_request",
		})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("api errors map to ErrUnavailable", func(t *testing.T) {
		t.Parallel()
		err := classifyPaddleErr(&paddleerr.Error{
			Type: paddleerr.ErrorTypeAPIError,
			Code: "internal_error",
		})
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("wrapped sdk errors are unwrapped", func(t *testing.T) {
		t.Parallel()
		inner := &paddleerr.Error{Type: paddleerr.ErrorTypeRequestError, Code: "price_not_found"}
		err := classifyPaddleErr(fmt.Errorf("get price: %w", inner))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("context cancellation maps to ErrUnavailable", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, classifyPaddleErr(context.DeadlineExceeded), ErrUnavailable)
	})

	t.Run("unknown errors map to ErrUnavailable", func(t *testing.T) {
		t.Parallel()
		assert.ErrorIs(t, classifyPaddleErr(errors.New("connection reset")), ErrUnavailable)
	})
}

func TestNormalizePaddleStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "canceled", normalizePaddleStatus("cancelled"))
	assert.Equal(t, "past_due", normalizePaddleStatus("paused"))
	assert.Equal(t, "active", normalizePaddleStatus("Active"))
	assert.Equal(t, "trialing", normalizePaddleStatus("trialing"))
}

func TestCustomDataToStrings(t *testing.T) {
	t.Parallel()

	out := customDataToStrings(paddle.CustomData{
		"initial_credits": "50",
		"limit":           float64(3),
		"beta":            true,
		"ignored":         []any{"x"},
	})
	assert.Equal(t, map[string]string{
		"initial_credits": "50",
		"limit":           "3",
		"beta":            "true",
	}, out)

	assert.Nil(t, customDataToStrings(nil))
}
