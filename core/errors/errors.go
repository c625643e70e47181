// Package errors defines the failure taxonomy shared by every ledger
// operation. Domain packages wrap these sentinels with fmt.Errorf("%w: ...")
// so callers can classify failures with errors.Is while still receiving a
// descriptive message.
package errors

import stderrors "errors"

var (
	// ErrUnauthorized signals that the caller lacks the required capability.
	ErrUnauthorized = stderrors.New("unauthorized")
	// ErrInvalidState signals an operation attempted outside its required
	// source state.
	ErrInvalidState = stderrors.New("invalid state")
	// ErrValidation signals malformed input, such as a payment that does not
	// match the album price.
	ErrValidation = stderrors.New("validation failed")
	// ErrOutOfRange signals a reference to a non-existent album index.
	ErrOutOfRange = stderrors.New("index out of range")
)
