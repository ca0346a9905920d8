package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"modmarket.org/internal/ledger"
	"modmarket.org/internal/market"
	"modmarket.org/internal/store/memory"
)

func newFixture(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	l := ledger.New(st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc := New(st, l)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	st.SeedDeveloper(market.Developer{Key: "modcorp", Name: "ModCorp", PayableLogin: "modcorp"})
	st.SeedUser(market.User{Login: "modcorp", Balance: 0})
	st.SeedMod(market.Mod{ID: 1, Name: "alpha", DeveloperKey: "modcorp", Price: 30, Status: market.ModPublished})
	st.SeedMod(market.Mod{ID: 2, Name: "beta", DeveloperKey: "modcorp", Price: 20, Status: market.ModPublished})
	st.SeedMod(market.Mod{ID: 3, Name: "gamma", DeveloperKey: "modcorp", Price: 50, Status: market.ModPublished})
	st.SeedBundle(market.Bundle{ID: 1, DeveloperKey: "modcorp", Mods: "1,2", Price: 40})
	return svc, st
}

func TestBuyModsSelfPayeeNetsToZero(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	// The developer's payable account is the buyer itself: the price comes
	// straight back as the developer credit, so the balance must not move.
	st.SeedDeveloper(market.Developer{Key: "selfpub", Name: "SelfPub", PayableLogin: "buyer"})
	st.SeedMod(market.Mod{ID: 9, Name: "own-mod", DeveloperKey: "selfpub", Price: 50, Status: market.ModPublished})
	buyer := st.SeedUser(market.User{Login: "buyer", Balance: 100})
	srv := st.SeedServer(market.Server{OwnerID: buyer.ID, Address: "10.0.0.1"})

	if err := svc.BuyMods(ctx, "buyer", "10.0.0.1", []int64{9}); err != nil {
		t.Fatal(err)
	}

	gotBuyer, _ := st.Users().Find(ctx, buyer.ID)
	if gotBuyer.Balance != 100 {
		t.Fatalf("buyer balance = %d, want 100 (credit and debit must compose)", gotBuyer.Balance)
	}
	gotSrv, _ := st.Servers().Find(ctx, srv.ID)
	if gotSrv.Mods != "9" {
		t.Fatalf("server mods = %q, want \"9\"", gotSrv.Mods)
	}
	trail, _ := st.Profit().List(ctx, 10)
	if len(trail) != 1 || trail[0].Amount != 50 || trail[0].PayeeID != buyer.ID {
		t.Fatalf("trail = %+v, want one entry amount=50 payee=buyer", trail)
	}
}

func TestBuyModsCreatesEntitlements(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	buyer := st.SeedUser(market.User{Login: "buyer", Balance: 100})
	srv := st.SeedServer(market.Server{OwnerID: buyer.ID, Address: "10.0.0.1", Mods: "3"})

	if err := svc.BuyMods(ctx, "buyer", "10.0.0.1", []int64{1, 2}); err != nil {
		t.Fatal(err)
	}

	gotSrv, _ := st.Servers().Find(ctx, srv.ID)
	if gotSrv.Mods != "1,2,3" {
		t.Fatalf("server mods = %q, want \"1,2,3\"", gotSrv.Mods)
	}
	gotBuyer, _ := st.Users().Find(ctx, buyer.ID)
	if gotBuyer.Balance != 50 {
		t.Fatalf("buyer balance = %d, want 100 - 30 - 20 = 50", gotBuyer.Balance)
	}
	dev, _ := st.Users().FindByLogin(ctx, "modcorp")
	if dev.Balance != 50 {
		t.Fatalf("developer balance = %d, want 50", dev.Balance)
	}

	ents, _ := st.Entitlements().ListExpired(ctx, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	if len(ents) != 2 {
		t.Fatalf("entitlements = %d, want 2", len(ents))
	}
	for _, e := range ents {
		if !e.AutoRenew || e.ServerID != srv.ID || e.BuyerID != buyer.ID {
			t.Fatalf("unexpected entitlement: %+v", e)
		}
		if want := e.BoughtAt.Add(market.EntitlementPeriod); !e.ExpiresAt.Equal(want) {
			t.Fatalf("expiry = %v, want %v", e.ExpiresAt, want)
		}
	}
}

func TestBuyModsSkipsAlreadyActive(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	buyer := st.SeedUser(market.User{Login: "buyer", Balance: 25})
	st.SeedServer(market.Server{OwnerID: buyer.ID, Address: "10.0.0.1", Mods: "1"})

	// Mod 1 is already active: only mod 2 (price 20) is charged, so a balance
	// of 25 suffices.
	if err := svc.BuyMods(ctx, "buyer", "10.0.0.1", []int64{1, 2}); err != nil {
		t.Fatal(err)
	}
	gotBuyer, _ := st.Users().FindByLogin(ctx, "buyer")
	if gotBuyer.Balance != 5 {
		t.Fatalf("buyer balance = %d, want 5", gotBuyer.Balance)
	}
}

func TestBuyModsInsufficientFundsRollsBack(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	buyer := st.SeedUser(market.User{Login: "buyer", Balance: 10})
	srv := st.SeedServer(market.Server{OwnerID: buyer.ID, Address: "10.0.0.1", Mods: ""})

	if err := svc.BuyMods(ctx, "buyer", "10.0.0.1", []int64{1}); !errors.Is(err, market.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	gotSrv, _ := st.Servers().Find(ctx, srv.ID)
	if gotSrv.Mods != "" {
		t.Fatalf("server mods mutated on failure: %q", gotSrv.Mods)
	}
	trail, _ := st.Profit().List(ctx, 10)
	if len(trail) != 0 {
		t.Fatalf("trail rows on failed purchase: %d", len(trail))
	}
}

func TestBuyModsOwnerCheck(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	buyer := st.SeedUser(market.User{Login: "buyer", Balance: 100})
	st.SeedUser(market.User{Login: "other", Balance: 100})
	st.SeedServer(market.Server{OwnerID: buyer.ID, Address: "10.0.0.1"})

	if err := svc.BuyMods(ctx, "other", "10.0.0.1", []int64{1}); !errors.Is(err, market.ErrNotOwner) {
		t.Fatalf("got %v, want ErrNotOwner", err)
	}
}

func TestBuySubscription(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	buyer := st.SeedUser(market.User{Login: "buyer", Balance: 100, ClaimedMods: "1[1]"})

	if err := svc.BuySubscription(ctx, "buyer", "ModCorp"); err != nil {
		t.Fatal(err)
	}

	subs, _ := st.Subscriptions().ListActive(ctx)
	if len(subs) != 1 {
		t.Fatalf("active subscriptions = %d, want 1", len(subs))
	}
	sub := subs[0]
	if sub.Login != "buyer" || !sub.AutoRenew || sub.Mods != "1,2" || sub.BundleID != 1 {
		t.Fatalf("unexpected subscription: %+v", sub)
	}

	gotBuyer, _ := st.Users().Find(ctx, buyer.ID)
	if gotBuyer.Balance != 60 {
		t.Fatalf("buyer balance = %d, want 60", gotBuyer.Balance)
	}
	if gotBuyer.ClaimedMods != "1[2],2[1]" {
		t.Fatalf("claims = %q, want \"1[2],2[1]\"", gotBuyer.ClaimedMods)
	}
	dev, _ := st.Users().FindByLogin(ctx, "modcorp")
	if dev.Balance != 40 {
		t.Fatalf("developer balance = %d, want 40", dev.Balance)
	}
}

func TestBuySubscriptionInsufficientFunds(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	st.SeedUser(market.User{Login: "poor", Balance: 10})

	if err := svc.BuySubscription(ctx, "poor", "ModCorp"); !errors.Is(err, market.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	subs, _ := st.Subscriptions().ListActive(ctx)
	if len(subs) != 0 {
		t.Fatalf("no subscription should be created, got %d", len(subs))
	}
}

func TestToggleAutoRenew(t *testing.T) {
	svc, st := newFixture(t)
	ctx := context.Background()
	buyer := st.SeedUser(market.User{Login: "buyer"})
	ent := st.SeedEntitlement(market.PurchaseEntitlement{
		BuyerID: buyer.ID, ModID: 1, ServerID: market.UnassignedServer, AutoRenew: true,
	})

	got, err := svc.ToggleAutoRenew(ctx, "buyer", ent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got {
		t.Fatal("expected auto-renew to flip to false")
	}

	// Another buyer cannot touch it.
	st.SeedUser(market.User{Login: "other"})
	if _, err := svc.ToggleAutoRenew(ctx, "other", ent.ID); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
