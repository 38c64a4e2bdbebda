package challenge

import (
	"errors"
	"fmt"
)

// ErrNoChallenge is returned by Parse when the page carries no
// challenge marker. Callers treat the page as ungated content.
var ErrNoChallenge = errors.New("no challenge present")

// ParseError reports a page that carries the challenge marker but whose
// embedded descriptor could not be decoded.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse challenge: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse challenge: %s", e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnsupportedAlgorithmError reports a descriptor naming an algorithm
// outside the four known variants. It is surfaced rather than guessed
// at so the caller never feeds an unknown challenge to a solver.
type UnsupportedAlgorithmError struct {
	Algorithm string
}

func (e *UnsupportedAlgorithmError) Error() string {
	return fmt.Sprintf("unsupported challenge algorithm %q", e.Algorithm)
}
