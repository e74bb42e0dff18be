package signature

import "errors"

var (
	ErrMissingSignature = errors.New("signature header is missing")
	ErrInvalidSignature = errors.New("signature verification failed")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)
