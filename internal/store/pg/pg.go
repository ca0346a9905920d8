// Package pg is the PostgreSQL implementation of market.Store, driven
// through database/sql with the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"modmarket.org/internal/market"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// every sub-store works unchanged inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	q  querier
	tx bool
}

var _ market.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// New wraps an existing pool; used by tests with sqlmock.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Users() market.UserStore                 { return users{s.q, s.tx} }
func (s *Store) Servers() market.ServerStore             { return servers{s.q, s.tx} }
func (s *Store) Entitlements() market.EntitlementStore   { return purchases{s.q} }
func (s *Store) Subscriptions() market.SubscriptionStore { return subscriptions{s.q} }
func (s *Store) Catalog() market.CatalogStore            { return catalog{s.q} }
func (s *Store) Profit() market.ProfitStore              { return profit{s.q} }

// Atomic runs fn inside a single database transaction. Nested calls reuse
// the transaction already in flight.
func (s *Store) Atomic(ctx context.Context, fn func(market.Store) error) error {
	if s.tx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: s.db, q: tx, tx: true}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- users ---

type users struct {
	q  querier
	tx bool
}

const userCols = `id, login, password_hash, role, balance, claimed_mods`

// lock appends a row lock inside transactions: user reads there are
// read-modify-write (balance, claims) and must not race.
func (u users) lock() string {
	if u.tx {
		return " for update"
	}
	return ""
}

func (u users) Find(ctx context.Context, id int64) (*market.User, error) {
	row := u.q.QueryRowContext(ctx, `select `+userCols+` from users where id=$1`+u.lock(), id)
	return scanUser(row)
}

func (u users) FindByLogin(ctx context.Context, login string) (*market.User, error) {
	row := u.q.QueryRowContext(ctx, `select `+userCols+` from users where login=$1`+u.lock(), login)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*market.User, error) {
	var usr market.User
	err := row.Scan(&usr.ID, &usr.Login, &usr.PasswordHash, &usr.Role, &usr.Balance, &usr.ClaimedMods)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, market.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &usr, nil
}

func (u users) AdjustBalance(ctx context.Context, id int64, delta int64) error {
	return execOne(ctx, u.q, `update users set balance = balance + $2 where id=$1`, market.ErrUserNotFound, id, delta)
}

func (u users) UpdateBalance(ctx context.Context, id int64, balance int64) error {
	return execOne(ctx, u.q, `update users set balance=$2 where id=$1`, market.ErrUserNotFound, id, balance)
}

func (u users) UpdateClaimedMods(ctx context.Context, id int64, encoded string) error {
	return execOne(ctx, u.q, `update users set claimed_mods=$2 where id=$1`, market.ErrUserNotFound, id, encoded)
}

// --- servers ---

type servers struct {
	q  querier
	tx bool
}

const serverCols = `id, owner_id, name, address, mods`

// lock appends a row lock inside transactions: the mods list is
// read-modify-written by both the allocation reconciler and the sweep, and
// concurrent writers must not base their update on the same stale list.
func (sv servers) lock() string {
	if sv.tx {
		return " for update"
	}
	return ""
}

func (sv servers) Find(ctx context.Context, id int64) (*market.Server, error) {
	row := sv.q.QueryRowContext(ctx, `select `+serverCols+` from servers where id=$1`+sv.lock(), id)
	return scanServer(row)
}

func (sv servers) FindByAddress(ctx context.Context, address string) (*market.Server, error) {
	row := sv.q.QueryRowContext(ctx, `select `+serverCols+` from servers where address=$1`+sv.lock(), address)
	return scanServer(row)
}

func scanServer(row *sql.Row) (*market.Server, error) {
	var srv market.Server
	err := row.Scan(&srv.ID, &srv.OwnerID, &srv.Name, &srv.Address, &srv.Mods)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, market.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

func (sv servers) UpdateMods(ctx context.Context, id int64, mods string) error {
	return execOne(ctx, sv.q, `update servers set mods=$2 where id=$1`, market.ErrNotFound, id, mods)
}

// --- purchase entitlements ---

type purchases struct {
	q querier
}

const purchaseCols = `id, buyer_id, mod_id, server_id, auto_renew, bought_at, expires_at`

func (p purchases) Create(ctx context.Context, ent *market.PurchaseEntitlement) error {
	return p.q.QueryRowContext(ctx, `
		insert into purchase_entitlements(buyer_id, mod_id, server_id, auto_renew, bought_at, expires_at)
		values ($1,$2,$3,$4,$5,$6) returning id
	`, ent.BuyerID, ent.ModID, ent.ServerID, ent.AutoRenew, ent.BoughtAt, ent.ExpiresAt).Scan(&ent.ID)
}

func (p purchases) FindForBuyer(ctx context.Context, buyerID, id int64) (*market.PurchaseEntitlement, error) {
	row := p.q.QueryRowContext(ctx, `
		select `+purchaseCols+` from purchase_entitlements where id=$1 and buyer_id=$2
	`, id, buyerID)
	var ent market.PurchaseEntitlement
	err := row.Scan(&ent.ID, &ent.BuyerID, &ent.ModID, &ent.ServerID, &ent.AutoRenew, &ent.BoughtAt, &ent.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, market.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

func (p purchases) ListExpired(ctx context.Context, before time.Time) ([]*market.PurchaseEntitlement, error) {
	rows, err := p.q.QueryContext(ctx, `
		select `+purchaseCols+` from purchase_entitlements
		where expires_at < $1
		order by id asc
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*market.PurchaseEntitlement
	for rows.Next() {
		var ent market.PurchaseEntitlement
		if err := rows.Scan(&ent.ID, &ent.BuyerID, &ent.ModID, &ent.ServerID, &ent.AutoRenew, &ent.BoughtAt, &ent.ExpiresAt); err != nil {
			return nil, err
		}
		res = append(res, &ent)
	}
	return res, rows.Err()
}

func (p purchases) UpdateExpiry(ctx context.Context, id int64, expires time.Time) error {
	return execOne(ctx, p.q, `update purchase_entitlements set expires_at=$2 where id=$1`, market.ErrNotFound, id, expires)
}

func (p purchases) SetAutoRenew(ctx context.Context, id int64, autoRenew bool) error {
	return execOne(ctx, p.q, `update purchase_entitlements set auto_renew=$2 where id=$1`, market.ErrNotFound, id, autoRenew)
}

// --- subscriptions ---

type subscriptions struct {
	q querier
}

const subscriptionCols = `id, login, bundle_id, mods, active, auto_renew, bought_at, expires_at`

func (sb subscriptions) Create(ctx context.Context, sub *market.Subscription) error {
	return sb.q.QueryRowContext(ctx, `
		insert into subscriptions(login, bundle_id, mods, active, auto_renew, bought_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7) returning id
	`, sub.Login, sub.BundleID, sub.Mods, sub.Active, sub.AutoRenew, sub.BoughtAt, sub.ExpiresAt).Scan(&sub.ID)
}

func (sb subscriptions) ListActive(ctx context.Context) ([]*market.Subscription, error) {
	rows, err := sb.q.QueryContext(ctx, `
		select `+subscriptionCols+` from subscriptions
		where active
		order by id asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*market.Subscription
	for rows.Next() {
		var sub market.Subscription
		if err := rows.Scan(&sub.ID, &sub.Login, &sub.BundleID, &sub.Mods, &sub.Active, &sub.AutoRenew, &sub.BoughtAt, &sub.ExpiresAt); err != nil {
			return nil, err
		}
		res = append(res, &sub)
	}
	return res, rows.Err()
}

func (sb subscriptions) UpdateExpiry(ctx context.Context, id int64, expires time.Time) error {
	return execOne(ctx, sb.q, `update subscriptions set expires_at=$2 where id=$1`, market.ErrNotFound, id, expires)
}

func (sb subscriptions) SetActive(ctx context.Context, id int64, active bool) error {
	return execOne(ctx, sb.q, `update subscriptions set active=$2 where id=$1`, market.ErrNotFound, id, active)
}

// --- catalog ---

type catalog struct {
	q querier
}

const modCols = `id, name, developer_key, price, status`

func (c catalog) Mod(ctx context.Context, id int64) (*market.Mod, error) {
	row := c.q.QueryRowContext(ctx, `select `+modCols+` from mods where id=$1`, id)
	var m market.Mod
	err := row.Scan(&m.ID, &m.Name, &m.DeveloperKey, &m.Price, &m.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, market.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (c catalog) Mods(ctx context.Context, ids []int64) ([]*market.Mod, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.q.QueryContext(ctx, `
		select `+modCols+` from mods where id = any($1) order by id asc
	`, int64Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*market.Mod
	for rows.Next() {
		var m market.Mod
		if err := rows.Scan(&m.ID, &m.Name, &m.DeveloperKey, &m.Price, &m.Status); err != nil {
			return nil, err
		}
		res = append(res, &m)
	}
	return res, rows.Err()
}

func (c catalog) ModIDs(ctx context.Context) ([]int64, error) {
	rows, err := c.q.QueryContext(ctx, `select id from mods order by id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c catalog) DeveloperByKey(ctx context.Context, key string) (*market.Developer, error) {
	row := c.q.QueryRowContext(ctx, `select key, name, payable_login from developers where key=$1`, key)
	return scanDeveloper(row)
}

func (c catalog) DeveloperByName(ctx context.Context, name string) (*market.Developer, error) {
	row := c.q.QueryRowContext(ctx, `select key, name, payable_login from developers where name=$1`, name)
	return scanDeveloper(row)
}

func scanDeveloper(row *sql.Row) (*market.Developer, error) {
	var d market.Developer
	err := row.Scan(&d.Key, &d.Name, &d.PayableLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, market.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c catalog) Bundle(ctx context.Context, id int64) (*market.Bundle, error) {
	row := c.q.QueryRowContext(ctx, `select id, developer_key, mods, price from bundles where id=$1`, id)
	return scanBundle(row)
}

func (c catalog) BundleByDeveloper(ctx context.Context, key string) (*market.Bundle, error) {
	row := c.q.QueryRowContext(ctx, `
		select id, developer_key, mods, price from bundles where developer_key=$1 order by id asc limit 1
	`, key)
	return scanBundle(row)
}

func scanBundle(row *sql.Row) (*market.Bundle, error) {
	var b market.Bundle
	err := row.Scan(&b.ID, &b.DeveloperKey, &b.Mods, &b.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, market.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// --- profit trail ---

type profit struct {
	q querier
}

func (p profit) Append(ctx context.Context, e *market.ProfitEntry) error {
	_, err := p.q.ExecContext(ctx, `
		insert into profit_trail(id, payer_id, item_ref, amount, payee_id, profit, created_at, cashed_out)
		values ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.PayerID, e.ItemRef, e.Amount, e.PayeeID, e.Profit, e.CreatedAt, e.CashedOut)
	return err
}

func (p profit) List(ctx context.Context, limit int) ([]*market.ProfitEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := p.q.QueryContext(ctx, `
		select id, payer_id, item_ref, amount, payee_id, profit, created_at, cashed_out
		from profit_trail
		order by id desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*market.ProfitEntry
	for rows.Next() {
		var e market.ProfitEntry
		if err := rows.Scan(&e.ID, &e.PayerID, &e.ItemRef, &e.Amount, &e.PayeeID, &e.Profit, &e.CreatedAt, &e.CashedOut); err != nil {
			return nil, err
		}
		res = append(res, &e)
	}
	return res, rows.Err()
}

func (p profit) MarkCashedOut(ctx context.Context, id string) error {
	return execOne(ctx, p.q, `update profit_trail set cashed_out=true where id=$1`, market.ErrNotFound, id)
}

// --- helpers ---

func execOne(ctx context.Context, q querier, query string, missing error, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

// int64Array renders ids as a Postgres array literal; the pgx stdlib driver
// does not accept []int64 directly through database/sql.
func int64Array(ids []int64) string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(id, 10))
	}
	sb.WriteByte('}')
	return sb.String()
}
