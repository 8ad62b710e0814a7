package core

import "errors"

// Sentinel errors for the failure classes the engine distinguishes.
// Callers test them with errors.Is; the concrete errors wrap these with
// job and path context.
var (
	// ErrSourceUnavailable means the source root does not exist or cannot
	// be read at all. The run aborts and no unit is created.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrPartialCopy means an I/O error interrupted copying. The partially
	// written folder is retained and its unit is recorded as failed.
	ErrPartialCopy = errors.New("partial copy failure")

	// ErrChainCorrupt means chain metadata expects a baseline folder that
	// is missing on disk. Recovery forces a fresh baseline in a new chain.
	ErrChainCorrupt = errors.New("chain corrupt")

	// ErrChainConflict means a concurrent writer changed the chain between
	// the run's decision and its commit. The losing writer aborts; the next
	// trigger re-decides against the winner's chain.
	ErrChainConflict = errors.New("chain conflict")
)
