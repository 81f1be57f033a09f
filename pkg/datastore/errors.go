package datastore

import (
	"errors"
	"strings"
)

// Error labels attached by stores to classify retryable failures.
const (
	LabelTransientTransaction = "TransientTransactionError"
	LabelUnknownCommitResult  = "UnknownTransactionCommitResult"
)

// LabeledError decorates a store error with retry labels.
type LabeledError struct {
	Labels []string
	Err    error
}

func (e *LabeledError) Error() string {
	if len(e.Labels) == 0 {
		return e.Err.Error()
	}
	return "[" + strings.Join(e.Labels, ",") + "] " + e.Err.Error()
}

func (e *LabeledError) Unwrap() error {
	return e.Err
}

func (e *LabeledError) HasErrorLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// WithLabels wraps err with the given labels. A nil err stays nil.
func WithLabels(err error, labels ...string) error {
	if err == nil {
		return nil
	}
	return &LabeledError{Labels: labels, Err: err}
}

// HasErrorLabel reports whether any error in err's chain carries label.
func HasErrorLabel(err error, label string) bool {
	for err != nil {
		var le *LabeledError
		if !errors.As(err, &le) {
			return false
		}
		if le.HasErrorLabel(label) {
			return true
		}
		err = le.Err
	}
	return false
}
