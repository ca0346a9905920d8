// Package sweep is the reconciliation loop: once per interval it renews or
// expires every outstanding subscription and purchase entitlement.
//
// It is the only path that expires or auto-renews; request handlers never do.
// Decision logic per item is independent: a failure on one item is logged and
// the sweep moves on. Each phase (subscriptions, purchases) commits as one
// atomic unit.
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"modmarket.org/internal/claims"
	"modmarket.org/internal/ledger"
	"modmarket.org/internal/market"
	"modmarket.org/internal/obs"
)

// Sweeper executes reconciliation ticks.
type Sweeper struct {
	store  market.Store
	ledger *ledger.Ledger
	log    *slog.Logger
	now    func() time.Time
}

// New creates a Sweeper.
func New(store market.Store, l *ledger.Ledger, log *slog.Logger) *Sweeper {
	return &Sweeper{store: store, ledger: l, log: log, now: time.Now}
}

// Tick runs one full reconciliation pass. Expiry comparisons are by calendar
// day (UTC): an item expires when its expiry date is strictly before today,
// so two ticks on the same day cannot double-renew anything the first tick
// already pushed forward.
func (s *Sweeper) Tick(ctx context.Context) error {
	start := s.now()
	s.log.Info("reconciliation tick started")

	err := errors.Join(
		s.sweepSubscriptions(ctx),
		s.sweepPurchases(ctx),
	)

	obs.SweepTickDuration.Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	obs.SweepTicks.WithLabelValues(outcome).Inc()
	s.log.Info("reconciliation tick finished", "outcome", outcome)
	return err
}

func (s *Sweeper) sweepSubscriptions(ctx context.Context) error {
	today := startOfDay(s.now())
	return s.store.Atomic(ctx, func(st market.Store) error {
		subs, err := st.Subscriptions().ListActive(ctx)
		if err != nil {
			return err
		}
		for _, sub := range subs {
			switch {
			case sub.AutoRenew && sub.ExpiresAt.Before(today):
				s.renewSubscription(ctx, st, sub)
			case sub.ExpiresAt.Before(today):
				// Lapsed without auto-renew: deactivate, keep the row.
				if err := st.Subscriptions().SetActive(ctx, sub.ID, false); err != nil {
					s.log.Error("deactivate subscription", "subscription", sub.ID, "error", err)
					continue
				}
				obs.SweepExpirations.WithLabelValues("subscription").Inc()
			}
		}
		return nil
	})
}

// renewSubscription debits the buyer and pushes expiry forward. The debit and
// the expiry move together: a missing bundle price skips the renewal entirely
// and the row is retried next tick. A missing developer only skips the
// credit side (the ledger treats it as a silent no-op).
func (s *Sweeper) renewSubscription(ctx context.Context, st market.Store, sub *market.Subscription) {
	user, err := st.Users().FindByLogin(ctx, sub.Login)
	if err != nil {
		s.log.Warn("subscription renewal skipped: buyer not found",
			"subscription", sub.ID, "login", sub.Login, "error", err)
		return
	}
	bundle, err := st.Catalog().Bundle(ctx, sub.BundleID)
	if err != nil {
		s.log.Warn("subscription renewal skipped: bundle not found",
			"subscription", sub.ID, "bundle", sub.BundleID, "error", err)
		return
	}

	if err := s.ledger.RecordPurchaseIn(ctx, st, user.ID, bundle.DeveloperKey, bundle.Price, bundle.Mods); err != nil {
		s.log.Error("subscription renewal: ledger purchase failed",
			"subscription", sub.ID, "error", err)
		return
	}
	if err := st.Users().AdjustBalance(ctx, user.ID, -bundle.Price); err != nil {
		s.log.Error("subscription renewal: debit failed", "subscription", sub.ID, "error", err)
		return
	}
	if err := st.Subscriptions().UpdateExpiry(ctx, sub.ID, s.now().UTC().Add(market.EntitlementPeriod)); err != nil {
		s.log.Error("subscription renewal: expiry push failed", "subscription", sub.ID, "error", err)
		return
	}
	obs.SweepRenewals.WithLabelValues("subscription").Inc()
}

func (s *Sweeper) sweepPurchases(ctx context.Context) error {
	today := startOfDay(s.now())
	return s.store.Atomic(ctx, func(st market.Store) error {
		expired, err := st.Entitlements().ListExpired(ctx, today)
		if err != nil {
			return err
		}
		for _, p := range expired {
			s.reconcilePurchase(ctx, st, p)
		}
		return nil
	})
}

func (s *Sweeper) reconcilePurchase(ctx context.Context, st market.Store, p *market.PurchaseEntitlement) {
	user, userErr := st.Users().Find(ctx, p.BuyerID)

	if p.AutoRenew && userErr == nil {
		s.renewPurchase(ctx, st, p, user)
		return
	}
	if userErr != nil && !p.Attached() {
		s.log.Warn("expired entitlement skipped: buyer not found",
			"entitlement", p.ID, "buyer", p.BuyerID, "error", userErr)
		return
	}

	if p.Attached() {
		// No auto-renew: take the mod off the server's active set.
		server, err := st.Servers().Find(ctx, p.ServerID)
		if err != nil {
			s.log.Warn("expired entitlement: server not found",
				"entitlement", p.ID, "server", p.ServerID, "error", err)
			return
		}
		ids := market.ParseModList(server.Mods)
		kept := ids[:0]
		removed := false
		for _, id := range ids {
			if id == p.ModID && !removed {
				removed = true
				continue
			}
			kept = append(kept, id)
		}
		if !removed {
			return // already off the server; nothing to do
		}
		if err := st.Servers().UpdateMods(ctx, server.ID, market.JoinModList(kept)); err != nil {
			s.log.Error("expired entitlement: server update failed",
				"entitlement", p.ID, "server", server.ID, "error", err)
			return
		}
		obs.SweepExpirations.WithLabelValues("purchase").Inc()
		return
	}

	// Unassigned: the claim lives in the buyer's personal storage.
	claimed := claims.Decode(user.ClaimedMods)
	if _, ok := claimed[p.ModID]; !ok {
		return // already reconciled on a previous tick
	}
	claims.Decrement(claimed, p.ModID)
	if err := st.Users().UpdateClaimedMods(ctx, user.ID, claims.Encode(claimed)); err != nil {
		s.log.Error("expired entitlement: claims update failed",
			"entitlement", p.ID, "user", user.ID, "error", err)
		return
	}
	obs.SweepExpirations.WithLabelValues("purchase").Inc()
}

// renewPurchase charges the current catalog price and pushes expiry forward.
// A buyer who cannot cover the price keeps the expired row untouched (and,
// for attached entitlements, keeps the mod on the server) until balance or
// the next tick resolves it.
func (s *Sweeper) renewPurchase(ctx context.Context, st market.Store, p *market.PurchaseEntitlement, user *market.User) {
	var price int64
	var developerKey string
	if mod, err := st.Catalog().Mod(ctx, p.ModID); err == nil {
		price = mod.Price
		developerKey = mod.DeveloperKey
	}

	if user.Balance < price {
		s.log.Warn("renewal skipped: insufficient balance",
			"entitlement", p.ID, "buyer", user.ID, "price", price, "balance", user.Balance)
		return
	}

	ref := strconv.FormatInt(p.ModID, 10)
	if err := s.ledger.RecordPurchaseIn(ctx, st, user.ID, developerKey, price, ref); err != nil {
		s.log.Error("renewal: ledger purchase failed", "entitlement", p.ID, "error", err)
		return
	}
	if err := st.Users().AdjustBalance(ctx, user.ID, -price); err != nil {
		s.log.Error("renewal: debit failed", "entitlement", p.ID, "error", err)
		return
	}
	if err := st.Entitlements().UpdateExpiry(ctx, p.ID, s.now().UTC().Add(market.EntitlementPeriod)); err != nil {
		s.log.Error("renewal: expiry push failed", "entitlement", p.ID, "error", err)
		return
	}
	obs.SweepRenewals.WithLabelValues("purchase").Inc()
}

// startOfDay truncates to the UTC calendar day. An item whose expiry falls
// any time before this instant has an expiry date earlier than today.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
