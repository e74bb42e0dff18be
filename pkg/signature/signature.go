package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the maximum accepted age of a signed payload.
// Old timestamps are rejected to limit the replay window.
const DefaultTolerance = 5 * time.Minute

// futureSkew allows for minor clock drift between the provider and us.
const futureSkew = time.Minute

// Event is a verified webhook envelope. Data is the embedded provider
// object and stays opaque at this layer.
type Event struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// CreatedAt returns the event creation time reported by the provider.
func (e *Event) CreatedAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// Verifier validates inbound webhook envelopes against a shared secret.
// Verification is pure: no I/O and no state beyond the configuration.
type Verifier struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithTolerance overrides the replay window. Zero disables the timestamp
// check entirely, which should only be done in tests.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) { v.tolerance = d }
}

// WithClock overrides the time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier returns a Verifier bound to the given shared secret.
// Panics on an empty secret to fail fast during initialization.
func NewVerifier(secret string, opts ...Option) *Verifier {
	if secret == "" {
		panic("signature: shared secret is required")
	}
	v := &Verifier{
		secret:    secret,
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify authenticates a raw payload against its signature header and
// returns the parsed envelope. The header carries the provider's
// timestamp-bound HMAC in the form "t=<unix>,v1=<hex>".
func (v *Verifier) Verify(payload []byte, sigHeader string) (*Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return nil, ErrMissingSignature
	}

	ts, sigs, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}

	if v.tolerance > 0 {
		age := v.now().Sub(time.Unix(ts, 0))
		if age > v.tolerance {
			return nil, fmt.Errorf("%w: timestamp outside tolerance window", ErrInvalidSignature)
		}
		if age < -futureSkew {
			return nil, fmt.Errorf("%w: timestamp is in the future", ErrInvalidSignature)
		}
	}

	expected := ComputeSignature(v.secret, ts, payload)
	valid := false
	for _, sig := range sigs {
		// hmac.Equal keeps the comparison constant-time
		if hmac.Equal(expected, sig) {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}

	return parseEnvelope(payload)
}

// ComputeSignature returns the HMAC-SHA256 of "<timestamp>.<payload>"
// keyed with secret. Exposed so tests and outbound senders can produce
// valid headers.
func ComputeSignature(secret string, timestamp int64, payload []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.", timestamp)
	h.Write(payload)
	return h.Sum(nil)
}

// SignatureHeader builds a valid "t=...,v1=..." header for a payload.
func SignatureHeader(secret string, timestamp int64, payload []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(ComputeSignature(secret, timestamp, payload)))
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>...]" into its
// timestamp and candidate signatures. Multiple v1 entries appear during
// secret rotation and any one of them may match.
func parseSignatureHeader(header string) (int64, [][]byte, error) {
	var (
		ts   int64
		sigs [][]byte
	)

	for _, part := range strings.Split(header, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return 0, nil, fmt.Errorf("%w: malformed header segment %q", ErrInvalidSignature, part)
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: invalid timestamp", ErrInvalidSignature)
			}
			ts = parsed
		case "v1":
			sig, err := hex.DecodeString(val)
			if err != nil {
				continue // skip undecodable entries, another scheme may match
			}
			sigs = append(sigs, sig)
		}
	}

	if ts == 0 {
		return 0, nil, fmt.Errorf("%w: timestamp is missing", ErrInvalidSignature)
	}
	if len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: no v1 signatures found", ErrInvalidSignature)
	}
	return ts, sigs, nil
}

func parseEnvelope(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("%w: envelope is missing id or type", ErrMalformedPayload)
	}
	return &event, nil
}
