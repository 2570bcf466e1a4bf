package core

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation reports missing or malformed input. It is always raised
	// before the chain is touched.
	ErrValidation = errors.New("validation failed")
	// ErrNotEligible is returned when a user has no gas eligibility.
	ErrNotEligible = errors.New("user not eligible for gas allocation")
	// ErrAlreadyCompleted is returned when the quest is already completed on chain.
	ErrAlreadyCompleted = errors.New("quest already completed")
	// ErrCompletionFailed wraps a failed on-chain quest completion.
	ErrCompletionFailed = errors.New("quest completion failed")
	// ErrNotFound is returned when a lookup exhausts the chain and the ledger.
	ErrNotFound = errors.New("not found")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
