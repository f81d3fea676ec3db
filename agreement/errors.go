package agreement

import "errors"

// Every failure that crosses a component boundary wraps one of these.
var (
	// The ledger has no record under the key. Never retried.
	ErrNotFound = errors.New("not found")
	// The redemption list cannot produce a valid transaction. Never retried.
	ErrInvalidRequestList = errors.New("invalid redemption request list")
	// The transaction is not buried deep enough yet. Retry later.
	ErrInsufficientConfirmations = errors.New("insufficient confirmations")
	// The mutation already happened on the ledger.
	ErrAlreadyDone = errors.New("already done")
	// Network or node hiccup.
	ErrTransient = errors.New("transient failure")
	ErrFatal     = errors.New("fatal failure")
)
