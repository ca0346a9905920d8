// Package market holds the marketplace domain model and the persistence
// contracts the core services depend on.
package market

import (
	"errors"
	"time"
)

// Amounts are in minor units (e.g. cents). No floats.

// UnassignedServer marks a purchase entitlement kept in the buyer's personal
// storage rather than attached to a server.
const UnassignedServer int64 = -1

// EntitlementPeriod is the lifetime granted by a purchase or a renewal.
const EntitlementPeriod = 30 * 24 * time.Hour

// User is a marketplace account.
type User struct {
	ID           int64
	Login        string
	PasswordHash string
	Role         string
	Balance      int64  // minor units; may go negative on subscription renewal
	ClaimedMods  string // encoded multiset, see internal/claims
}

// ModStatus tags a catalog entry as published or still pending review.
type ModStatus string

const (
	ModPublished ModStatus = "published"
	ModPending   ModStatus = "pending"
)

// Mod is a purchasable catalog item. Read-only to the core.
type Mod struct {
	ID           int64
	Name         string
	DeveloperKey string
	Price        int64
	Status       ModStatus
}

// Developer maps a developer-group key to a payable account login.
type Developer struct {
	Key          string
	Name         string
	PayableLogin string
}

// Bundle is a subscription offering: a developer's mod set at one price.
type Bundle struct {
	ID           int64
	DeveloperKey string
	Mods         string // comma-joined mod ids
	Price        int64
}

// Server is a buyer-owned deployment target.
type Server struct {
	ID      int64
	OwnerID int64
	Name    string
	Address string
	Mods    string // comma-joined sorted mod ids
}

// PurchaseEntitlement is one buyer's time-boxed right to use one mod on one
// server (or unassigned).
type PurchaseEntitlement struct {
	ID        int64
	BuyerID   int64
	ModID     int64
	ServerID  int64 // UnassignedServer when kept in storage
	AutoRenew bool
	BoughtAt  time.Time
	ExpiresAt time.Time
}

// Attached reports whether the entitlement is bound to a server.
func (p PurchaseEntitlement) Attached() bool { return p.ServerID != UnassignedServer }

// Subscription is one buyer's recurring right to a bundled set of mods.
// Lapsed rows are kept with Active=false, never deleted.
type Subscription struct {
	ID        int64
	Login     string
	BundleID  int64
	Mods      string // snapshot of the bundle's mod set at purchase time
	Active    bool
	AutoRenew bool
	BoughtAt  time.Time
	ExpiresAt time.Time
}

// ProfitEntry is an immutable record of one monetary movement. The only
// permitted mutation after creation is flipping CashedOut.
type ProfitEntry struct {
	ID        string // sortable, see internal/ids
	PayerID   int64
	ItemRef   string
	Amount    int64
	PayeeID   int64
	Profit    int64
	CreatedAt time.Time
	CashedOut bool
}

var (
	ErrNotFound             = errors.New("not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidAmount        = errors.New("invalid amount (must be >= 0)")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrEmptyBatch           = errors.New("no valid mod ids in either batch")
	ErrDeveloperNotResolved = errors.New("developer not resolved")
	ErrNotOwner             = errors.New("server is not owned by this user")
)
