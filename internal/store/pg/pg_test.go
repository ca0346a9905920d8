package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"modmarket.org/internal/market"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestUserFindByLogin(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectQuery("select id, login, password_hash, role, balance, claimed_mods from users where login").
		WithArgs("buyer").
		WillReturnRows(sqlmock.NewRows([]string{"id", "login", "password_hash", "role", "balance", "claimed_mods"}).
			AddRow(7, "buyer", "hash", "user", 150, "1[2]"))

	u, err := st.Users().FindByLogin(context.Background(), "buyer")
	if err != nil {
		t.Fatalf("FindByLogin: %v", err)
	}
	if u.ID != 7 || u.Balance != 150 || u.ClaimedMods != "1[2]" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserFindMissing(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectQuery("select .* from users where id").WithArgs(int64(9)).WillReturnError(sql.ErrNoRows)

	_, err := st.Users().Find(context.Background(), 9)
	if !errors.Is(err, market.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUserUpdateBalanceMissing(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectExec("update users set balance").
		WithArgs(int64(9), int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Users().UpdateBalance(context.Background(), 9, 10)
	if !errors.Is(err, market.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound on zero rows, got %v", err)
	}
}

func TestAtomicCommit(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("update users set balance").
		WithArgs(int64(1), int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.Atomic(context.Background(), func(tx market.Store) error {
		return tx.Users().UpdateBalance(context.Background(), 1, 42)
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAtomicRollbackOnError(t *testing.T) {
	st, mock := newMock(t)

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := st.Atomic(context.Background(), func(market.Store) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error back, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAtomicReentrant(t *testing.T) {
	st, mock := newMock(t)

	// A nested Atomic must not open a second transaction.
	mock.ExpectBegin()
	mock.ExpectExec("update servers set mods").
		WithArgs(int64(3), "1,2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.Atomic(context.Background(), func(tx market.Store) error {
		return tx.Atomic(context.Background(), func(inner market.Store) error {
			return inner.Servers().UpdateMods(context.Background(), 3, "1,2")
		})
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserReadsLockInsideTransaction(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select .* from users where id=.. for update").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "login", "password_hash", "role", "balance", "claimed_mods"}).
			AddRow(1, "buyer", "", "user", 0, ""))
	mock.ExpectCommit()

	err := st.Atomic(context.Background(), func(tx market.Store) error {
		_, err := tx.Users().Find(context.Background(), 1)
		return err
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestServerReadsLockInsideTransaction(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select .* from servers where id=.. for update").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "address", "mods"}).
			AddRow(3, 1, "main", "10.0.0.1", "1,2"))
	mock.ExpectCommit()

	err := st.Atomic(context.Background(), func(tx market.Store) error {
		_, err := tx.Servers().Find(context.Background(), 3)
		return err
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestServerReadsOutsideTransactionDoNotLock(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectQuery(`select .* from servers where address=.\d$`).
		WithArgs("10.0.0.1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "address", "mods"}).
			AddRow(3, 1, "main", "10.0.0.1", "1,2"))

	if _, err := st.Servers().FindByAddress(context.Background(), "10.0.0.1"); err != nil {
		t.Fatalf("FindByAddress: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserAdjustBalanceIsDelta(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectExec(`update users set balance = balance \+`).
		WithArgs(int64(7), int64(-40)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.Users().AdjustBalance(context.Background(), 7, -40); err != nil {
		t.Fatalf("AdjustBalance: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEntitlementCreateAssignsID(t *testing.T) {
	st, mock := newMock(t)

	bought := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("insert into purchase_entitlements").
		WithArgs(int64(1), int64(2), int64(3), true, bought, bought.Add(market.EntitlementPeriod)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))

	ent := &market.PurchaseEntitlement{
		BuyerID: 1, ModID: 2, ServerID: 3, AutoRenew: true,
		BoughtAt: bought, ExpiresAt: bought.Add(market.EntitlementPeriod),
	}
	if err := st.Entitlements().Create(context.Background(), ent); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ent.ID != 11 {
		t.Fatalf("id = %d, want 11", ent.ID)
	}
}

func TestListExpired(t *testing.T) {
	st, mock := newMock(t)

	cutoff := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	bought := cutoff.Add(-40 * 24 * time.Hour)
	mock.ExpectQuery("select .* from purchase_entitlements.*where expires_at").
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id", "buyer_id", "mod_id", "server_id", "auto_renew", "bought_at", "expires_at"}).
			AddRow(1, 10, 5, -1, false, bought, bought.Add(market.EntitlementPeriod)).
			AddRow(2, 10, 6, 3, true, bought, bought.Add(market.EntitlementPeriod)))

	ents, err := st.Entitlements().ListExpired(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ListExpired: %v", err)
	}
	if len(ents) != 2 {
		t.Fatalf("len = %d, want 2", len(ents))
	}
	if ents[0].Attached() || !ents[1].Attached() {
		t.Fatalf("attachment flags wrong: %+v", ents)
	}
}

func TestCatalogModsArrayLiteral(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectQuery("select .* from mods where id = any").
		WithArgs("{1,2,3}").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "developer_key", "price", "status"}).
			AddRow(1, "alpha", "modcorp", 50, "published").
			AddRow(2, "beta", "modcorp", 20, "published"))

	mods, err := st.Catalog().Mods(context.Background(), []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("Mods: %v", err)
	}
	if len(mods) != 2 || mods[0].Status != market.ModPublished {
		t.Fatalf("unexpected mods: %+v", mods)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProfitMarkCashedOutMissing(t *testing.T) {
	st, mock := newMock(t)

	mock.ExpectExec("update profit_trail set cashed_out").
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Profit().MarkCashedOut(context.Background(), "nope")
	if !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscriptionListActive(t *testing.T) {
	st, mock := newMock(t)

	bought := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select .* from subscriptions.*where active").
		WillReturnRows(sqlmock.NewRows([]string{"id", "login", "bundle_id", "mods", "active", "auto_renew", "bought_at", "expires_at"}).
			AddRow(1, "buyer", 1, "1,2", true, true, bought, bought.Add(market.EntitlementPeriod)))

	subs, err := st.Subscriptions().ListActive(context.Background())
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(subs) != 1 || subs[0].Login != "buyer" || subs[0].Mods != "1,2" {
		t.Fatalf("unexpected subscriptions: %+v", subs)
	}
}
