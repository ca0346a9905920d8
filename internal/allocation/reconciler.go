// Package allocation reassigns mods between a server's active set and the
// owner's personal storage.
//
// The two updates are deliberately coupled: a mod slot returned to personal
// storage raises the user's claimed count independently of the server's set
// membership, and the two fields must commit together or entitlement
// visibility drifts from server reality.
package allocation

import (
	"context"

	"modmarket.org/internal/claims"
	"modmarket.org/internal/market"
)

// Reconciler applies allocation-change batches.
type Reconciler struct {
	store market.Store
}

// New creates a Reconciler over the given store.
func New(store market.Store) *Reconciler {
	return &Reconciler{store: store}
}

// Result reports the state after a successful reconciliation.
type Result struct {
	ServerMods  string          // new active set, sorted comma-joined form
	ClaimedMods claims.Multiset // acting user's claimed slots after the change
}

// Reconcile moves toServer ids from the user's storage onto the server's
// active set and toStorage ids off the active set back into storage.
//
// Claim bookkeeping follows the physical slot: deploying an id that was not
// already active consumes one personal claim (decrement); returning an id
// that was active yields one (increment). Ids unknown to the catalog are
// dropped silently; if nothing valid remains in either batch the request
// fails with ErrEmptyBatch.
func (r *Reconciler) Reconcile(ctx context.Context, login, serverAddress string, toServer, toStorage []int64) (*Result, error) {
	var res *Result
	err := r.store.Atomic(ctx, func(s market.Store) error {
		user, err := s.Users().FindByLogin(ctx, login)
		if err != nil {
			return err
		}
		server, err := s.Servers().FindByAddress(ctx, serverAddress)
		if err != nil {
			return err
		}

		valid, err := validCatalogIDs(ctx, s)
		if err != nil {
			return err
		}
		toServer = filterKnown(toServer, valid)
		toStorage = filterKnown(toStorage, valid)
		if len(toServer) == 0 && len(toStorage) == 0 {
			return market.ErrEmptyBatch
		}

		active := map[int64]bool{}
		for _, id := range market.ParseModList(server.Mods) {
			active[id] = true
		}
		claimed := claims.Decode(user.ClaimedMods)

		// Deploying from storage: ids the server did not already expose are
		// drawn from the user's personal claims.
		for _, id := range toServer {
			if !active[id] {
				claims.Decrement(claimed, id)
			}
		}
		// Returning to storage: ids the server did expose go back into the
		// user's personal claims.
		for _, id := range toStorage {
			if active[id] {
				claims.Increment(claimed, id)
			}
		}

		for _, id := range toStorage {
			delete(active, id)
		}
		for _, id := range toServer {
			active[id] = true
		}
		next := make([]int64, 0, len(active))
		for id := range active {
			next = append(next, id)
		}

		encodedMods := market.JoinModList(next)
		encodedClaims := claims.Encode(claimed)
		if err := s.Servers().UpdateMods(ctx, server.ID, encodedMods); err != nil {
			return err
		}
		if err := s.Users().UpdateClaimedMods(ctx, user.ID, encodedClaims); err != nil {
			return err
		}

		res = &Result{ServerMods: encodedMods, ClaimedMods: claimed}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func validCatalogIDs(ctx context.Context, s market.Store) (map[int64]bool, error) {
	ids, err := s.Catalog().ModIDs(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func filterKnown(ids []int64, valid map[int64]bool) []int64 {
	out := ids[:0]
	for _, id := range ids {
		if valid[id] {
			out = append(out, id)
		}
	}
	return out
}
