package allocation

import (
	"context"
	"errors"
	"testing"

	"modmarket.org/internal/market"
	"modmarket.org/internal/store/memory"
)

func seed(t *testing.T, serverMods, claimedMods string) (*Reconciler, *memory.Store, market.User, market.Server) {
	t.Helper()
	st := memory.New()
	for _, id := range []int64{1, 2, 3, 4, 5} {
		st.SeedMod(market.Mod{ID: id, DeveloperKey: "dev", Price: 10, Status: market.ModPublished})
	}
	u := st.SeedUser(market.User{Login: "owner", ClaimedMods: claimedMods})
	srv := st.SeedServer(market.Server{OwnerID: u.ID, Address: "10.0.0.1", Mods: serverMods})
	return New(st), st, u, srv
}

func TestReconcileAddAndRemove(t *testing.T) {
	r, st, u, srv := seed(t, "1,2,3", "")
	ctx := context.Background()

	res, err := r.Reconcile(ctx, "owner", "10.0.0.1", []int64{4}, []int64{2})
	if err != nil {
		t.Fatal(err)
	}
	if res.ServerMods != "1,3,4" {
		t.Fatalf("server mods = %q, want \"1,3,4\"", res.ServerMods)
	}
	// 2 was active and went back to storage: one claim gained. 4 was not
	// active, so deploying it draws on a (here absent) personal claim and
	// never increments.
	if res.ClaimedMods[2] != 1 {
		t.Fatalf("claim for 2 = %d, want 1", res.ClaimedMods[2])
	}
	if _, ok := res.ClaimedMods[4]; ok {
		t.Fatalf("claim for 4 should not appear, got %v", res.ClaimedMods)
	}

	gotSrv, _ := st.Servers().Find(ctx, srv.ID)
	if gotSrv.Mods != "1,3,4" {
		t.Fatalf("persisted server mods = %q", gotSrv.Mods)
	}
	gotUser, _ := st.Users().Find(ctx, u.ID)
	if gotUser.ClaimedMods != "2[1]" {
		t.Fatalf("persisted claims = %q, want \"2[1]\"", gotUser.ClaimedMods)
	}
}

func TestReconcileDeployConsumesClaim(t *testing.T) {
	r, st, u, _ := seed(t, "1,2,3", "4[2]")
	ctx := context.Background()

	res, err := r.Reconcile(ctx, "owner", "10.0.0.1", []int64{4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ServerMods != "1,2,3,4" {
		t.Fatalf("server mods = %q", res.ServerMods)
	}
	if res.ClaimedMods[4] != 1 {
		t.Fatalf("claim for 4 = %d, want 1 (one slot consumed)", res.ClaimedMods[4])
	}
	gotUser, _ := st.Users().Find(ctx, u.ID)
	if gotUser.ClaimedMods != "4[1]" {
		t.Fatalf("persisted claims = %q", gotUser.ClaimedMods)
	}
}

func TestReconcileDeployAlreadyActiveKeepsClaims(t *testing.T) {
	r, _, _, _ := seed(t, "1,2,3", "2[1]")
	ctx := context.Background()

	// Id 2 is already exposed by the server; re-deploying it touches neither
	// the set nor the claims.
	res, err := r.Reconcile(ctx, "owner", "10.0.0.1", []int64{2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ServerMods != "1,2,3" {
		t.Fatalf("server mods = %q", res.ServerMods)
	}
	if res.ClaimedMods[2] != 1 {
		t.Fatalf("claim for 2 = %d, want untouched 1", res.ClaimedMods[2])
	}
}

func TestReconcileRemoveInactiveIsClaimNoop(t *testing.T) {
	r, _, _, _ := seed(t, "1,2,3", "")
	ctx := context.Background()

	// Id 5 is valid but not active on the server: removal changes nothing
	// except confirming it is absent from the set.
	res, err := r.Reconcile(ctx, "owner", "10.0.0.1", nil, []int64{5})
	if err != nil {
		t.Fatal(err)
	}
	if res.ServerMods != "1,2,3" {
		t.Fatalf("server mods = %q", res.ServerMods)
	}
	if len(res.ClaimedMods) != 0 {
		t.Fatalf("claims should stay empty, got %v", res.ClaimedMods)
	}
}

func TestReconcileDropsUnknownIDs(t *testing.T) {
	r, _, _, _ := seed(t, "1,2,3", "")
	ctx := context.Background()

	res, err := r.Reconcile(ctx, "owner", "10.0.0.1", []int64{4, 999}, []int64{888})
	if err != nil {
		t.Fatal(err)
	}
	if res.ServerMods != "1,2,3,4" {
		t.Fatalf("server mods = %q, unknown ids must be dropped", res.ServerMods)
	}
}

func TestReconcileEmptyBatch(t *testing.T) {
	r, _, _, _ := seed(t, "1,2,3", "")
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, "owner", "10.0.0.1", nil, nil); !errors.Is(err, market.ErrEmptyBatch) {
		t.Fatalf("got %v, want ErrEmptyBatch", err)
	}
	if _, err := r.Reconcile(ctx, "owner", "10.0.0.1", []int64{999}, []int64{888}); !errors.Is(err, market.ErrEmptyBatch) {
		t.Fatalf("all-unknown batches: got %v, want ErrEmptyBatch", err)
	}
}

func TestReconcileUnknownUserAndServer(t *testing.T) {
	r, _, _, _ := seed(t, "1,2,3", "")
	ctx := context.Background()

	if _, err := r.Reconcile(ctx, "ghost", "10.0.0.1", []int64{1}, nil); !errors.Is(err, market.ErrUserNotFound) {
		t.Fatalf("got %v, want ErrUserNotFound", err)
	}
	if _, err := r.Reconcile(ctx, "owner", "10.9.9.9", []int64{1}, nil); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
