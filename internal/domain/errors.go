package domain

import "github.com/pkg/errors"

// Sentinel errors for the engine. Callers match with errors.Is after
// unwrapping whatever context was added along the way.
var (
	// ErrProductDefinition means the configured product is not tradable on
	// the exchange. Fatal at construction, never retried.
	ErrProductDefinition = errors.New("product not active for trading")

	// ErrAccountBalance means an expected currency is missing from the
	// account snapshot. The exchange profile is misconfigured, fatal.
	ErrAccountBalance = errors.New("currency missing from account snapshot")

	// ErrOrderPlacement covers size-out-of-bounds validation failures and
	// exhausted decaying retries. Surfaced to the caller, which reverts to
	// a flat state rather than running under-hedged.
	ErrOrderPlacement = errors.New("order placement failed")

	// ErrOrderFill means a fill or done event could not be applied: the
	// payload was malformed or referenced an order we do not know about.
	// Continuing with an inconsistent ledger risks real money, so this
	// always forces a full resync.
	ErrOrderFill = errors.New("order fill could not be reconciled")
)
