package domain

import "context"

// AccountInfo is the raw state of a ledger account as returned by the
// gateway: undecoded bytes plus the slot at which they were observed.
type AccountInfo struct {
	Data     []byte
	Slot     uint64
	Owner    Address
	Lamports uint64
}

// LedgerGateway is the thin interface to the external ledger. Transport
// failures (timeouts, rate limits, network errors) are retried with bounded
// exponential backoff inside the gateway and surface as ErrLedgerUnavailable
// once retries are exhausted. A missing account surfaces as ErrNotFound,
// which is semantically meaningful and must never be conflated with a
// transport failure.
type LedgerGateway interface {
	// GetAccount fetches the current bytes of a single account.
	GetAccount(ctx context.Context, addr Address) (AccountInfo, error)

	// GetAccounts fetches several accounts in one request. Accounts that do
	// not exist are simply absent from the returned map; only transport
	// failures return an error.
	GetAccounts(ctx context.Context, addrs []Address) (map[Address]AccountInfo, error)
}

// AccountChange is a push notification that an account's bytes changed.
type AccountChange struct {
	Address Address
	Info    AccountInfo
}

// LedgerSubscriber is the optional change-notification side of the gateway.
// Implementations deliver best-effort hints; the sync manager still polls,
// so a dropped notification only delays an update until the next tick.
type LedgerSubscriber interface {
	// SubscribeAccount registers interest in an account and returns a
	// channel of change hints. The subscription ends when ctx is cancelled.
	SubscribeAccount(ctx context.Context, addr Address) (<-chan AccountChange, error)
}
