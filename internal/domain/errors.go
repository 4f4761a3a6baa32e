package domain

import "errors"

var (
	// ErrMalformedPayload means a payload cannot be serialized deterministically.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnstorableEvent means an event carries a value the raw store cannot
	// hold, such as a NUL byte or an over-long vendor name.
	ErrUnstorableEvent = errors.New("unstorable event")
)
