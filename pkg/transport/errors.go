package transport

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a delivery failure.
type ErrorKind int

const (
	// KindTransient covers network errors, timeouts and temporary server
	// rejections. The entry is rescheduled with backoff.
	KindTransient ErrorKind = iota
	// KindPermanent covers invalid recipients, rejected content, missing
	// source data and render failures. The entry is dead-lettered.
	KindPermanent
)

func (k ErrorKind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// Error wraps a delivery failure with its retry classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Err: err}
}

// IsPermanent reports whether err carries a permanent classification.
// Unclassified errors count as transient: an unknown failure mode must not
// silently dead-letter a deliverable message.
func IsPermanent(err error) bool {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind == KindPermanent
	}
	return false
}
