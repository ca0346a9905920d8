// Package checkout creates entitlements: buying mods onto a server and
// buying a developer's subscription bundle.
package checkout

import (
	"context"
	"strconv"
	"time"

	"modmarket.org/internal/claims"
	"modmarket.org/internal/ledger"
	"modmarket.org/internal/market"
)

// Service handles purchase flows. Each flow is one atomic store commit:
// balance debit, developer credit, trail append and entitlement rows land
// together or not at all.
type Service struct {
	store  market.Store
	ledger *ledger.Ledger
	now    func() time.Time
}

// New creates a checkout Service.
func New(store market.Store, l *ledger.Ledger) *Service {
	return &Service{store: store, ledger: l, now: time.Now}
}

// BuyMods purchases the given mods onto a server owned by login. Mods the
// server already exposes are skipped and not charged. Each new mod gets an
// auto-renewing thirty-day entitlement and its developer is credited through
// the ledger.
func (c *Service) BuyMods(ctx context.Context, login, serverAddress string, modIDs []int64) error {
	return c.store.Atomic(ctx, func(s market.Store) error {
		user, err := s.Users().FindByLogin(ctx, login)
		if err != nil {
			return err
		}
		server, err := s.Servers().FindByAddress(ctx, serverAddress)
		if err != nil {
			return err
		}
		if server.OwnerID != user.ID {
			return market.ErrNotOwner
		}

		mods, err := s.Catalog().Mods(ctx, modIDs)
		if err != nil {
			return err
		}
		if len(mods) == 0 {
			return market.ErrNotFound
		}

		active := map[int64]bool{}
		ids := market.ParseModList(server.Mods)
		for _, id := range ids {
			active[id] = true
		}

		var toAdd []*market.Mod
		var price int64
		for _, mod := range mods {
			if active[mod.ID] {
				continue
			}
			toAdd = append(toAdd, mod)
			price += mod.Price
		}
		if len(toAdd) == 0 {
			return nil // everything requested is already on the server
		}
		if price > user.Balance {
			return market.ErrInsufficientFunds
		}

		now := c.now().UTC()
		for _, mod := range toAdd {
			ids = append(ids, mod.ID)
			if err := s.Entitlements().Create(ctx, &market.PurchaseEntitlement{
				BuyerID:   user.ID,
				ModID:     mod.ID,
				ServerID:  server.ID,
				AutoRenew: true,
				BoughtAt:  now,
				ExpiresAt: now.Add(market.EntitlementPeriod),
			}); err != nil {
				return err
			}
			if mod.Price > 0 {
				ref := strconv.FormatInt(mod.ID, 10)
				if err := c.ledger.RecordPurchaseIn(ctx, s, user.ID, mod.DeveloperKey, mod.Price, ref); err != nil {
					return err
				}
			}
		}

		// A delta debit, not an overwrite: the developer credits above may
		// have already moved this same row when the buyer is the payee.
		if err := s.Users().AdjustBalance(ctx, user.ID, -price); err != nil {
			return err
		}
		return s.Servers().UpdateMods(ctx, server.ID, market.JoinModList(ids))
	})
}

// BuySubscription purchases the bundle offered by the named developer: a
// thirty-day auto-renewing subscription plus one personal claim for every
// catalog-valid mod in the bundle.
func (c *Service) BuySubscription(ctx context.Context, login, developerName string) error {
	return c.store.Atomic(ctx, func(s market.Store) error {
		user, err := s.Users().FindByLogin(ctx, login)
		if err != nil {
			return err
		}
		dev, err := s.Catalog().DeveloperByName(ctx, developerName)
		if err != nil {
			return err
		}
		bundle, err := s.Catalog().BundleByDeveloper(ctx, dev.Key)
		if err != nil {
			return err
		}
		if bundle.Price <= 0 || bundle.Price > user.Balance {
			return market.ErrInsufficientFunds
		}

		now := c.now().UTC()
		if err := s.Subscriptions().Create(ctx, &market.Subscription{
			Login:     user.Login,
			BundleID:  bundle.ID,
			Mods:      bundle.Mods,
			Active:    true,
			AutoRenew: true,
			BoughtAt:  now,
			ExpiresAt: now.Add(market.EntitlementPeriod),
		}); err != nil {
			return err
		}
		if err := c.ledger.RecordPurchaseIn(ctx, s, user.ID, dev.Key, bundle.Price, bundle.Mods); err != nil {
			return err
		}
		if err := s.Users().AdjustBalance(ctx, user.ID, -bundle.Price); err != nil {
			return err
		}

		valid, err := s.Catalog().ModIDs(ctx)
		if err != nil {
			return err
		}
		known := make(map[int64]bool, len(valid))
		for _, id := range valid {
			known[id] = true
		}
		claimed := claims.Decode(user.ClaimedMods)
		for _, id := range market.ParseModList(bundle.Mods) {
			if known[id] {
				claims.Increment(claimed, id)
			}
		}
		return s.Users().UpdateClaimedMods(ctx, user.ID, claims.Encode(claimed))
	})
}

// ToggleAutoRenew flips the auto-renew flag on an entitlement owned by login
// and reports the new value.
func (c *Service) ToggleAutoRenew(ctx context.Context, login string, entitlementID int64) (bool, error) {
	var next bool
	err := c.store.Atomic(ctx, func(s market.Store) error {
		user, err := s.Users().FindByLogin(ctx, login)
		if err != nil {
			return err
		}
		ent, err := s.Entitlements().FindForBuyer(ctx, user.ID, entitlementID)
		if err != nil {
			return err
		}
		next = !ent.AutoRenew
		return s.Entitlements().SetAutoRenew(ctx, ent.ID, next)
	})
	if err != nil {
		return false, err
	}
	return next, nil
}
