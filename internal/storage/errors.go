package storage

import "errors"

var (
	// ErrUserCreditsNotFound is returned when no balance row exists for a user
	ErrUserCreditsNotFound = errors.New("user credits not found")

	// ErrCostConfigNotFound is returned when no enabled cost config matches
	// an (endpoint, method) pair
	ErrCostConfigNotFound = errors.New("api cost config not found")

	// ErrTransactionNotFound is returned when a ledger entry is not found
	ErrTransactionNotFound = errors.New("credit transaction not found")
)
