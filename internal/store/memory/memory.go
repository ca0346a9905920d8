// Package memory implements market.Store in process memory.
//
// It backs unit tests and the -mem development mode of cmd/api. Atomic takes
// a state snapshot up front and restores it when fn fails, so a failed
// operation leaves every entity at its pre-operation value, the same contract
// the Postgres backend gets from sql.Tx.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"modmarket.org/internal/market"
)

type state struct {
	users         map[int64]*market.User
	servers       map[int64]*market.Server
	purchases     map[int64]*market.PurchaseEntitlement
	subscriptions map[int64]*market.Subscription
	mods          map[int64]*market.Mod
	developers    map[string]*market.Developer
	bundles       map[int64]*market.Bundle
	profit        []*market.ProfitEntry

	nextUser, nextServer, nextPurchase, nextSubscription int64
}

func newState() *state {
	return &state{
		users:         map[int64]*market.User{},
		servers:       map[int64]*market.Server{},
		purchases:     map[int64]*market.PurchaseEntitlement{},
		subscriptions: map[int64]*market.Subscription{},
		mods:          map[int64]*market.Mod{},
		developers:    map[string]*market.Developer{},
		bundles:       map[int64]*market.Bundle{},
	}
}

func (st *state) clone() *state {
	out := newState()
	for id, u := range st.users {
		c := *u
		out.users[id] = &c
	}
	for id, s := range st.servers {
		c := *s
		out.servers[id] = &c
	}
	for id, p := range st.purchases {
		c := *p
		out.purchases[id] = &c
	}
	for id, s := range st.subscriptions {
		c := *s
		out.subscriptions[id] = &c
	}
	for id, m := range st.mods {
		c := *m
		out.mods[id] = &c
	}
	for key, d := range st.developers {
		c := *d
		out.developers[key] = &c
	}
	for id, b := range st.bundles {
		c := *b
		out.bundles[id] = &c
	}
	out.profit = make([]*market.ProfitEntry, len(st.profit))
	for i, e := range st.profit {
		c := *e
		out.profit[i] = &c
	}
	out.nextUser, out.nextServer = st.nextUser, st.nextServer
	out.nextPurchase, out.nextSubscription = st.nextPurchase, st.nextSubscription
	return out
}

// Store is the root handle. All access outside Atomic takes a coarse lock.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ market.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// acquire locks the root store unless the caller already runs inside Atomic.
func (s *Store) acquire(tx bool) func() {
	if tx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Users() market.UserStore                 { return users{s, false} }
func (s *Store) Servers() market.ServerStore             { return servers{s, false} }
func (s *Store) Entitlements() market.EntitlementStore   { return purchases{s, false} }
func (s *Store) Subscriptions() market.SubscriptionStore { return subscriptions{s, false} }
func (s *Store) Catalog() market.CatalogStore            { return catalog{s, false} }
func (s *Store) Profit() market.ProfitStore              { return profit{s, false} }

// Atomic runs fn against a view sharing the lock; on error the pre-fn
// snapshot is restored.
func (s *Store) Atomic(ctx context.Context, fn func(market.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(txView{s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// txView is the transactional face of the store: same state, no locking
// (the root lock is held for the whole Atomic call), reentrant Atomic.
type txView struct{ s *Store }

var _ market.Store = txView{}

func (v txView) Users() market.UserStore                 { return users{v.s, true} }
func (v txView) Servers() market.ServerStore             { return servers{v.s, true} }
func (v txView) Entitlements() market.EntitlementStore   { return purchases{v.s, true} }
func (v txView) Subscriptions() market.SubscriptionStore { return subscriptions{v.s, true} }
func (v txView) Catalog() market.CatalogStore            { return catalog{v.s, true} }
func (v txView) Profit() market.ProfitStore              { return profit{v.s, true} }

func (v txView) Atomic(ctx context.Context, fn func(market.Store) error) error {
	return fn(v)
}

// --- users ---

type users struct {
	s  *Store
	tx bool
}

func (u users) Find(ctx context.Context, id int64) (*market.User, error) {
	defer u.s.acquire(u.tx)()
	usr, ok := u.s.st.users[id]
	if !ok {
		return nil, market.ErrUserNotFound
	}
	c := *usr
	return &c, nil
}

func (u users) FindByLogin(ctx context.Context, login string) (*market.User, error) {
	defer u.s.acquire(u.tx)()
	for _, usr := range u.s.st.users {
		if usr.Login == login {
			c := *usr
			return &c, nil
		}
	}
	return nil, market.ErrUserNotFound
}

func (u users) AdjustBalance(ctx context.Context, id int64, delta int64) error {
	defer u.s.acquire(u.tx)()
	usr, ok := u.s.st.users[id]
	if !ok {
		return market.ErrUserNotFound
	}
	usr.Balance += delta
	return nil
}

func (u users) UpdateBalance(ctx context.Context, id int64, balance int64) error {
	defer u.s.acquire(u.tx)()
	usr, ok := u.s.st.users[id]
	if !ok {
		return market.ErrUserNotFound
	}
	usr.Balance = balance
	return nil
}

func (u users) UpdateClaimedMods(ctx context.Context, id int64, encoded string) error {
	defer u.s.acquire(u.tx)()
	usr, ok := u.s.st.users[id]
	if !ok {
		return market.ErrUserNotFound
	}
	usr.ClaimedMods = encoded
	return nil
}

// --- servers ---

type servers struct {
	s  *Store
	tx bool
}

func (sv servers) Find(ctx context.Context, id int64) (*market.Server, error) {
	defer sv.s.acquire(sv.tx)()
	srv, ok := sv.s.st.servers[id]
	if !ok {
		return nil, market.ErrNotFound
	}
	c := *srv
	return &c, nil
}

func (sv servers) FindByAddress(ctx context.Context, address string) (*market.Server, error) {
	defer sv.s.acquire(sv.tx)()
	for _, srv := range sv.s.st.servers {
		if srv.Address == address {
			c := *srv
			return &c, nil
		}
	}
	return nil, market.ErrNotFound
}

func (sv servers) UpdateMods(ctx context.Context, id int64, mods string) error {
	defer sv.s.acquire(sv.tx)()
	srv, ok := sv.s.st.servers[id]
	if !ok {
		return market.ErrNotFound
	}
	srv.Mods = mods
	return nil
}

// --- purchase entitlements ---

type purchases struct {
	s  *Store
	tx bool
}

func (p purchases) Create(ctx context.Context, e *market.PurchaseEntitlement) error {
	defer p.s.acquire(p.tx)()
	if e.ID == 0 {
		p.s.st.nextPurchase++
		e.ID = p.s.st.nextPurchase
	} else if e.ID > p.s.st.nextPurchase {
		p.s.st.nextPurchase = e.ID
	}
	c := *e
	p.s.st.purchases[e.ID] = &c
	return nil
}

func (p purchases) FindForBuyer(ctx context.Context, buyerID, id int64) (*market.PurchaseEntitlement, error) {
	defer p.s.acquire(p.tx)()
	e, ok := p.s.st.purchases[id]
	if !ok || e.BuyerID != buyerID {
		return nil, market.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (p purchases) ListExpired(ctx context.Context, before time.Time) ([]*market.PurchaseEntitlement, error) {
	defer p.s.acquire(p.tx)()
	var out []*market.PurchaseEntitlement
	for _, e := range p.s.st.purchases {
		if e.ExpiresAt.Before(before) {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (p purchases) UpdateExpiry(ctx context.Context, id int64, expires time.Time) error {
	defer p.s.acquire(p.tx)()
	e, ok := p.s.st.purchases[id]
	if !ok {
		return market.ErrNotFound
	}
	e.ExpiresAt = expires
	return nil
}

func (p purchases) SetAutoRenew(ctx context.Context, id int64, autoRenew bool) error {
	defer p.s.acquire(p.tx)()
	e, ok := p.s.st.purchases[id]
	if !ok {
		return market.ErrNotFound
	}
	e.AutoRenew = autoRenew
	return nil
}

// --- subscriptions ---

type subscriptions struct {
	s  *Store
	tx bool
}

func (sb subscriptions) Create(ctx context.Context, sub *market.Subscription) error {
	defer sb.s.acquire(sb.tx)()
	if sub.ID == 0 {
		sb.s.st.nextSubscription++
		sub.ID = sb.s.st.nextSubscription
	} else if sub.ID > sb.s.st.nextSubscription {
		sb.s.st.nextSubscription = sub.ID
	}
	c := *sub
	sb.s.st.subscriptions[sub.ID] = &c
	return nil
}

func (sb subscriptions) ListActive(ctx context.Context) ([]*market.Subscription, error) {
	defer sb.s.acquire(sb.tx)()
	var out []*market.Subscription
	for _, sub := range sb.s.st.subscriptions {
		if sub.Active {
			c := *sub
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (sb subscriptions) UpdateExpiry(ctx context.Context, id int64, expires time.Time) error {
	defer sb.s.acquire(sb.tx)()
	sub, ok := sb.s.st.subscriptions[id]
	if !ok {
		return market.ErrNotFound
	}
	sub.ExpiresAt = expires
	return nil
}

func (sb subscriptions) SetActive(ctx context.Context, id int64, active bool) error {
	defer sb.s.acquire(sb.tx)()
	sub, ok := sb.s.st.subscriptions[id]
	if !ok {
		return market.ErrNotFound
	}
	sub.Active = active
	return nil
}

// --- catalog ---

type catalog struct {
	s  *Store
	tx bool
}

func (c catalog) Mod(ctx context.Context, id int64) (*market.Mod, error) {
	defer c.s.acquire(c.tx)()
	m, ok := c.s.st.mods[id]
	if !ok {
		return nil, market.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (c catalog) Mods(ctx context.Context, ids []int64) ([]*market.Mod, error) {
	defer c.s.acquire(c.tx)()
	var out []*market.Mod
	for _, id := range ids {
		if m, ok := c.s.st.mods[id]; ok {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c catalog) ModIDs(ctx context.Context) ([]int64, error) {
	defer c.s.acquire(c.tx)()
	ids := make([]int64, 0, len(c.s.st.mods))
	for id := range c.s.st.mods {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (c catalog) DeveloperByKey(ctx context.Context, key string) (*market.Developer, error) {
	defer c.s.acquire(c.tx)()
	d, ok := c.s.st.developers[key]
	if !ok {
		return nil, market.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (c catalog) DeveloperByName(ctx context.Context, name string) (*market.Developer, error) {
	defer c.s.acquire(c.tx)()
	for _, d := range c.s.st.developers {
		if strings.EqualFold(d.Name, name) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, market.ErrNotFound
}

func (c catalog) Bundle(ctx context.Context, id int64) (*market.Bundle, error) {
	defer c.s.acquire(c.tx)()
	b, ok := c.s.st.bundles[id]
	if !ok {
		return nil, market.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (c catalog) BundleByDeveloper(ctx context.Context, key string) (*market.Bundle, error) {
	defer c.s.acquire(c.tx)()
	for _, b := range c.s.st.bundles {
		if b.DeveloperKey == key {
			cp := *b
			return &cp, nil
		}
	}
	return nil, market.ErrNotFound
}

// --- profit trail ---

type profit struct {
	s  *Store
	tx bool
}

func (p profit) Append(ctx context.Context, e *market.ProfitEntry) error {
	defer p.s.acquire(p.tx)()
	c := *e
	p.s.st.profit = append(p.s.st.profit, &c)
	return nil
}

func (p profit) List(ctx context.Context, limit int) ([]*market.ProfitEntry, error) {
	defer p.s.acquire(p.tx)()
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	n := len(p.s.st.profit)
	out := make([]*market.ProfitEntry, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		c := *p.s.st.profit[i]
		out = append(out, &c)
	}
	return out, nil
}

func (p profit) MarkCashedOut(ctx context.Context, id string) error {
	defer p.s.acquire(p.tx)()
	for _, e := range p.s.st.profit {
		if e.ID == id {
			e.CashedOut = true
			return nil
		}
	}
	return market.ErrNotFound
}
