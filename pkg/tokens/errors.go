package tokens

import "errors"

// Errors returned by ledger mutations. They are wrapped with the amounts
// involved; match them with errors.Is.
var (
	ErrInvalidRecipient      = errors.New("invalid recipient: null holder")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrArithmeticOverflow    = errors.New("arithmetic overflow")
)
