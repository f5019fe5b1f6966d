package domain

import "errors"

var (
	// ErrMalformedRecord indicates an account buffer too short for the
	// mandatory fields of its record type. The decode attempt is abandoned
	// and the previous cached value is retained.
	ErrMalformedRecord = errors.New("malformed account record")

	// ErrNotFound indicates meaningful absence: a missing cache entry, or a
	// ledger account that does not exist (including accounts closed by the
	// ledger program).
	ErrNotFound = errors.New("not found")

	// ErrLedgerUnavailable indicates a transport-level gateway failure
	// (timeout, rate limit, network error) after retries were exhausted. It
	// never means the account is gone.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrStaleConflict indicates the cache and the ledger disagreed on a
	// monotonic field. The ledger value wins; the conflict is logged, never
	// surfaced to end users.
	ErrStaleConflict = errors.New("stale cache conflict")

	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
	ErrWSDisconnect  = errors.New("websocket disconnected")
)
