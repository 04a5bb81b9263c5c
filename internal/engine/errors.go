package engine

import "errors"

// Precondition failures are expected outcomes of racing writers and bad
// input, not faults: callers branch on them with errors.Is and move on.
var (
	// ErrAlreadyInitialized is returned when the insurance fund singleton
	// already exists. Initialization is idempotent from the operator's
	// point of view; this error is benign.
	ErrAlreadyInitialized = errors.New("insurance fund already initialized")

	// ErrFundNotInitialized is returned when an operation needs the fund
	// and no fund record exists yet.
	ErrFundNotInitialized = errors.New("insurance fund not initialized")

	// ErrPositionAlreadyExists is returned when opening over a live
	// position at the same derived address. Reopening over an inert
	// record is allowed and is not this error.
	ErrPositionAlreadyExists = errors.New("position already exists")

	// ErrPositionNotFound is returned when no record exists at the
	// position address.
	ErrPositionNotFound = errors.New("position not found")

	// ErrInvalidSymbol is returned for an empty or over-length symbol.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrInvalidAmount is returned for a zero size, non-positive
	// collateral or entry price, or an out-of-range leverage.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAccountMismatch is returned when a record decodes to the wrong
	// kind for the operation, or its fields do not re-derive to the
	// address it was read from.
	ErrAccountMismatch = errors.New("account does not match expected kind or address")

	// ErrAlreadyLiquidated is returned when the target position carries
	// no exposure. Under concurrent liquidators this is the normal
	// outcome for every racer but one.
	ErrAlreadyLiquidated = errors.New("position already liquidated")

	// ErrNotLiquidatable is returned when the position's health factor is
	// at or above the liquidation threshold. State is never modified.
	ErrNotLiquidatable = errors.New("position healthy, not liquidatable")

	// ErrCommitContention is returned after repeated CAS conflicts against
	// a position that stays live. The caller may retry on the next cycle.
	ErrCommitContention = errors.New("commit contention, retry later")

	// ErrInsufficientInsuranceFunds signals that a liquidation settled
	// with bad debt the fund could not fully absorb. The settlement HAS
	// committed; the position is closed and the fund drained to zero.
	// Callers treat this as a warning carrying a LiquidationResult, not a
	// failure.
	ErrInsufficientInsuranceFunds = errors.New("insurance fund exhausted, bad debt partially uncovered")
)
