package persona

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a profile, knowledge entry or memory is absent.
	ErrNotFound = errors.New("not found")

	// ErrExhausted is returned when a resource the operation needs has run
	// out: no unanswered questions remain, or too few answers exist to deploy.
	ErrExhausted = errors.New("exhausted")

	// ErrNotDeployed is returned when chatting with a profile that has not
	// opted into being queried.
	ErrNotDeployed = errors.New("profile is not deployed")

	// ErrInvalidInput is returned for inputs that cannot be clamped into
	// shape, such as a blank answer.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientTraining is returned by Deploy. It wraps ErrExhausted.
	ErrInsufficientTraining = fmt.Errorf("%w: not enough answers to deploy", ErrExhausted)
)
