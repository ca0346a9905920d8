package market

import (
	"context"
	"time"
)

// Store describes persistence operations required by the marketplace core.
// Atomic runs fn against a transactional view of the store: every mutation fn
// makes commits together or not at all. Calling Atomic on a view that is
// already transactional reuses the same transaction.
type Store interface {
	Users() UserStore
	Servers() ServerStore
	Entitlements() EntitlementStore
	Subscriptions() SubscriptionStore
	Catalog() CatalogStore
	Profit() ProfitStore

	Atomic(ctx context.Context, fn func(Store) error) error
}

// UserStore manages marketplace accounts.
//
// AdjustBalance applies a signed delta against the stored balance, so a
// credit and a debit to the same account inside one transaction compose
// regardless of the order they were issued in. UpdateBalance overwrites the
// stored value and is reserved for flows that are defined as overwrites
// (deposit SET mode).
type UserStore interface {
	Find(ctx context.Context, id int64) (*User, error)
	FindByLogin(ctx context.Context, login string) (*User, error)
	AdjustBalance(ctx context.Context, id int64, delta int64) error
	UpdateBalance(ctx context.Context, id int64, balance int64) error
	UpdateClaimedMods(ctx context.Context, id int64, encoded string) error
}

// ServerStore manages deployment targets.
type ServerStore interface {
	Find(ctx context.Context, id int64) (*Server, error)
	FindByAddress(ctx context.Context, address string) (*Server, error)
	UpdateMods(ctx context.Context, id int64, mods string) error
}

// EntitlementStore manages per-mod purchase entitlements.
type EntitlementStore interface {
	Create(ctx context.Context, p *PurchaseEntitlement) error
	FindForBuyer(ctx context.Context, buyerID, id int64) (*PurchaseEntitlement, error)
	ListExpired(ctx context.Context, before time.Time) ([]*PurchaseEntitlement, error)
	UpdateExpiry(ctx context.Context, id int64, expires time.Time) error
	SetAutoRenew(ctx context.Context, id int64, autoRenew bool) error
}

// SubscriptionStore manages bundle subscriptions.
type SubscriptionStore interface {
	Create(ctx context.Context, s *Subscription) error
	ListActive(ctx context.Context) ([]*Subscription, error)
	UpdateExpiry(ctx context.Context, id int64, expires time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// CatalogStore is read-only catalog data: mods, developers, bundles.
// A missing row is reported as ErrNotFound and callers are expected to treat
// it as a skip-this-item outcome, not a crash.
type CatalogStore interface {
	Mod(ctx context.Context, id int64) (*Mod, error)
	Mods(ctx context.Context, ids []int64) ([]*Mod, error)
	ModIDs(ctx context.Context) ([]int64, error)
	DeveloperByKey(ctx context.Context, key string) (*Developer, error)
	DeveloperByName(ctx context.Context, name string) (*Developer, error)
	Bundle(ctx context.Context, id int64) (*Bundle, error)
	BundleByDeveloper(ctx context.Context, key string) (*Bundle, error)
}

// ProfitStore appends and reads the immutable profit trail.
type ProfitStore interface {
	Append(ctx context.Context, e *ProfitEntry) error
	List(ctx context.Context, limit int) ([]*ProfitEntry, error)
	MarkCashedOut(ctx context.Context, id string) error
}
