package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSourceFailure = errors.New("power source failure")
	ErrTimeout       = errors.New("timed out waiting for power source message")
	ErrNoValue       = errors.New("power source has no value yet")
)

// SourceError tags a backend failure with the source that produced it.
type SourceError struct {
	Source string
	Err    error
}

func NewSourceError(source string, err error) *SourceError {
	return &SourceError{Source: source, Err: err}
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrSourceFailure, e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceFailure, e.Err}
}
