package chain

import "errors"

var (
	// ErrWriteFailed reports a transaction that reverted or could not be
	// submitted. No local state may be changed after it.
	ErrWriteFailed = errors.New("chain: write failed")
	// ErrEventNotFound reports a successful transaction whose receipt lacks the
	// expected event. It indicates an ABI or contract version mismatch.
	ErrEventNotFound = errors.New("chain: expected event not found")
	// ErrNotFound reports a lookup for a record the contract does not hold.
	ErrNotFound = errors.New("chain: not found")
	// ErrInvalidAddress reports a malformed wallet address.
	ErrInvalidAddress = errors.New("chain: invalid address")
	// ErrInvalidRequestID reports an identifier that is not a 32-byte hex value.
	ErrInvalidRequestID = errors.New("chain: invalid request id")
	// ErrNotConfigured reports a gateway missing a contract address or signer.
	ErrNotConfigured = errors.New("chain: gateway not configured")
)
