package signature_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/creditkit/pkg/signature"
)

const testSecret = "whsec_test_secret"

var testPayload = []byte(`{"id":"evt_123","type":"customer.subscription.updated","created":1700000000,"data":{"object":{"id":"sub_123"}}}`)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestVerifier_Verify(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000100, 0)

	t.Run("valid signature", func(t *testing.T) {
		t.Parallel()

		v := signature.NewVerifier(testSecret, signature.WithClock(fixedClock(now)))
		header := signature.SignatureHeader(testSecret, now.Unix(), testPayload)

		event, err := v.Verify(testPayload, header)
		require.NoError(t, err)
		assert.Equal(t, "evt_123", event.ID)
		assert.Equal(t, "customer.subscription.updated", event.Type)
		assert.Equal(t, int64(1700000000), event.Created)
		assert.NotEmpty(t, event.Data)
	})

	t.Run("missing header", func(t *testing.T) {
		t.Parallel()

		v := signature.NewVerifier(testSecret)
		_, err := v.Verify(testPayload, "")
		assert.ErrorIs(t, err, signature.ErrMissingSignature)

		_, err = v.Verify(testPayload, "   ")
		assert.ErrorIs(t, err, signature.ErrMissingSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		t.Parallel()

		v := signature.NewVerifier(testSecret, signature.WithClock(fixedClock(now)))
		header := signature.SignatureHeader("whsec_other", now.Unix(), testPayload)

		_, err := v.Verify(testPayload, header)
		assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	})

	t.Run("tampered payload", func(t *testing.T) {
		t.Parallel()

		v := signature.NewVerifier(testSecret, signature.WithClock(fixedClock(now)))
		header := signature.SignatureHeader(testSecret, now.Unix(), testPayload)

		tampered := append([]byte(nil), testPayload...)
		tampered[len(tampered)-2] = 'x'

		_, err := v.Verify(tampered, header)
		assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	})

	t.Run("stale timestamp rejected", func(t *testing.T) {
		t.Parallel()

		v := signature.NewVerifier(testSecret, signature.WithClock(fixedClock(now)))
		stale := now.Add(-signature.DefaultTolerance - time.Second).Unix()
		header := signature.SignatureHeader(testSecret, stale, testPayload)

		_, err := v.Verify(testPayload, header)
		assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	})

	t.Run("far future timestamp rejected", func(t *testing.T) {
		t.Parallel()

		v := signature.NewVerifier(testSecret, signature.WithClock(fixedClock(now)))
		future := now.Add(10 * time.Minute).Unix()
		header := signature.SignatureHeader(testSecret, future, testPayload)

		_, err := v.Verify(testPayload, header)
		assert.ErrorIs(t, err, signature.ErrInvalidSignature)
	})

	t.Run("stale timestamp accepted with custom tolerance", func(t *testing.T) {
		t.Parallel()

		v := signature.NewVerifier(testSecret,
			signature.WithClock(fixedClock(now)),
			signature.WithTolerance(time.Hour))
		stale := now.Add(-30 * time.Minute).Unix()
		header := signature.SignatureHeader(testSecret, stale, testPayload)

		_, err := v.Verify(testPayload, header)
		assert.NoError(t, err)
	})

	t.Run("second v1 entry matches", func(t *testing.T) {
		t.Parallel()

		v := signature.NewVerifier(testSecret, signature.WithClock(fixedClock(now)))
		good := signature.SignatureHeader(testSecret, now.Unix(), testPayload)
		bad := signature.SignatureHeader("whsec_rotated_out", now.Unix(), testPayload)
		// bad header is "t=...,v1=<bad>"; append the good v1 to it
		header := bad + good[len("t=0000000000"):]

		_, err := v.Verify(testPayload, header)
		assert.NoError(t, err)
	})

	t.Run("malformed header", func(t *testing.T) {
		t.Parallel()

		v := signature.NewVerifier(testSecret)
		for _, header := range []string{
			"t=notanumber,v1=abcd",
			"t=1700000000",
			"v1=abcd",
			"garbage",
		} {
			_, err := v.Verify(testPayload, header)
			assert.ErrorIs(t, err, signature.ErrInvalidSignature, "header %q", header)
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		t.Parallel()

		v := signature.NewVerifier(testSecret, signature.WithClock(fixedClock(now)))
		for _, payload := range [][]byte{
			[]byte(`not json`),
			[]byte(`{"id":"","type":"x.y"}`),
			[]byte(`{"id":"evt_1","type":""}`),
		} {
			header := signature.SignatureHeader(testSecret, now.Unix(), payload)
			_, err := v.Verify(payload, header)
			assert.ErrorIs(t, err, signature.ErrMalformedPayload, "payload %s", payload)
		}
	})
}

func TestNewVerifier_PanicsOnEmptySecret(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { signature.NewVerifier("") })
}

func TestEvent_CreatedAt(t *testing.T) {
	t.Parallel()

	event := &signature.Event{Created: 1700000000}
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), event.CreatedAt())
}
