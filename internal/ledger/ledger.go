// Package ledger moves value between buyers, developers and the marketplace.
// Every movement appends exactly one profit-trail row, committed atomically
// with the balance mutation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"modmarket.org/internal/ids"
	"modmarket.org/internal/market"
)

// commissionPercent is the marketplace cut on deposits. Per-item purchases
// currently carry a zero cut; the trail records profit 0 for audit symmetry.
const commissionPercent = 15

// DepositMode selects how a deposit is applied to the stored balance.
type DepositMode int

const (
	// ModeAdd credits the balance by the net amount (gross minus commission).
	ModeAdd DepositMode = iota
	// ModeSet overwrites the balance with the gross amount. The commission is
	// still recorded in the trail but not subtracted from the stored balance,
	// an intentional asymmetry with ModeAdd.
	ModeSet
)

func (m DepositMode) String() string {
	if m == ModeSet {
		return "set"
	}
	return "add"
}

// ParseDepositMode maps the wire form ("add"/"set") to a DepositMode.
func ParseDepositMode(s string) (DepositMode, error) {
	switch s {
	case "add":
		return ModeAdd, nil
	case "set":
		return ModeSet, nil
	default:
		return 0, fmt.Errorf("unknown deposit mode %q", s)
	}
}

// Ledger applies monetary movements against the store.
type Ledger struct {
	store market.Store
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Ledger over the given store.
func New(store market.Store, log *slog.Logger) *Ledger {
	return &Ledger{store: store, log: log, now: time.Now}
}

// RecordPurchase credits the developer resolved from developerKey with the
// full gross amount and appends a trail row with profit 0. An unresolvable
// developer or payable account makes the call a silent no-op: catalog data
// may be stale and the surrounding renewal flow must still proceed.
func (l *Ledger) RecordPurchase(ctx context.Context, buyerID int64, developerKey string, gross int64, itemRef string) error {
	return l.store.Atomic(ctx, func(s market.Store) error {
		return l.RecordPurchaseIn(ctx, s, buyerID, developerKey, gross, itemRef)
	})
}

// RecordPurchaseIn is RecordPurchase for callers already inside a store
// transaction (checkout, the reconciliation sweep).
func (l *Ledger) RecordPurchaseIn(ctx context.Context, s market.Store, buyerID int64, developerKey string, gross int64, itemRef string) error {
	if gross < 0 {
		return market.ErrInvalidAmount
	}

	payee, err := resolvePayee(ctx, s, developerKey)
	if errors.Is(err, market.ErrDeveloperNotResolved) {
		l.log.Info("purchase skipped: developer not resolved",
			"developer_key", developerKey, "item", itemRef)
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.Users().AdjustBalance(ctx, payee.ID, gross); err != nil {
		return err
	}
	return s.Profit().Append(ctx, &market.ProfitEntry{
		ID:        ids.New(),
		PayerID:   buyerID,
		ItemRef:   itemRef,
		Amount:    gross,
		PayeeID:   payee.ID,
		Profit:    0,
		CreatedAt: l.now().UTC(),
	})
}

// RecordDeposit settles a balance top-up. The 15% commission is always
// recorded in the trail; whether it is subtracted from the stored balance
// depends on the mode (see DepositMode).
func (l *Ledger) RecordDeposit(ctx context.Context, userID int64, amount int64, mode DepositMode) error {
	return l.store.Atomic(ctx, func(s market.Store) error {
		if amount < 0 {
			return market.ErrInvalidAmount
		}
		user, err := s.Users().Find(ctx, userID)
		if err != nil {
			return err
		}

		commission := amount * commissionPercent / 100
		net := amount - commission

		var itemRef string
		switch mode {
		case ModeSet:
			itemRef = "Deposit (SET)"
			err = s.Users().UpdateBalance(ctx, user.ID, amount)
		default:
			itemRef = "Deposit (ADD)"
			err = s.Users().AdjustBalance(ctx, user.ID, net)
		}
		if err != nil {
			return err
		}
		return s.Profit().Append(ctx, &market.ProfitEntry{
			ID:        ids.New(),
			PayerID:   user.ID,
			ItemRef:   itemRef,
			Amount:    net,
			PayeeID:   user.ID,
			Profit:    commission,
			CreatedAt: l.now().UTC(),
		})
	})
}

// resolvePayee maps a developer-group key to the payable marketplace account.
func resolvePayee(ctx context.Context, s market.Store, developerKey string) (*market.User, error) {
	dev, err := s.Catalog().DeveloperByKey(ctx, developerKey)
	if errors.Is(err, market.ErrNotFound) {
		return nil, market.ErrDeveloperNotResolved
	}
	if err != nil {
		return nil, err
	}
	payee, err := s.Users().FindByLogin(ctx, dev.PayableLogin)
	if errors.Is(err, market.ErrUserNotFound) {
		return nil, market.ErrDeveloperNotResolved
	}
	if err != nil {
		return nil, err
	}
	return payee, nil
}
