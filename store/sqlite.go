package store

import (
	"context"
	"database/sql"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
	"time"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS account (
	id          INTEGER PRIMARY KEY,
	name        TEXT    NOT NULL,
	api_key     TEXT    NOT NULL,
	secret_key  TEXT    NOT NULL,
	symbol      TEXT    NOT NULL,
	deposit     REAL    NOT NULL,
	grid_count  INTEGER NOT NULL,
	start_price REAL    NOT NULL,
	end_price   REAL    NOT NULL,
	stop_loss   REAL    NOT NULL,
	status      TEXT    NOT NULL DEFAULT 'stopped'
);
CREATE TABLE IF NOT EXISTS trades (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id INTEGER NOT NULL REFERENCES account(id),
	symbol     TEXT    NOT NULL,
	side       TEXT    NOT NULL,
	price      REAL    NOT NULL,
	quantity   REAL    NOT NULL,
	status     TEXT    NOT NULL,
	order_id   TEXT    NOT NULL DEFAULT '',
	created_at TEXT    NOT NULL
);`

// SQLite serves the account and trades tables of a local database file.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// sqlite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create sqlite schema")
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Accounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, api_key, secret_key, symbol, deposit,
		grid_count, start_price, end_price, stop_loss, status FROM account ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query accounts")
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		var status string
		if err := rows.Scan(&a.ID, &a.Name, &a.APIKey, &a.SecretKey, &a.Symbol, &a.Deposit,
			&a.GridCount, &a.StartPrice, &a.EndPrice, &a.StopLoss, &status); err != nil {
			return nil, errors.Wrap(err, "scan account")
		}
		a.Status = AccountStatus(status)
		accounts = append(accounts, a)
	}
	return accounts, errors.Wrap(rows.Err(), "iterate accounts")
}

func (s *SQLite) Record(ctx context.Context, t Trade) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO trades
		(account_id, symbol, side, price, quantity, status, order_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, t.Symbol, t.Side, t.Price, t.Quantity, string(t.Status), t.OrderID,
		t.CreatedAt.UTC().Format(time.RFC3339Nano))
	return errors.Wrap(err, "insert trade")
}

// PutAccount inserts or replaces an account row. The registry is owned by the
// account service; this exists for local setups and tests.
func (s *SQLite) PutAccount(ctx context.Context, a Account) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO account
		(id, name, api_key, secret_key, symbol, deposit, grid_count, start_price, end_price, stop_loss, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.APIKey, a.SecretKey, a.Symbol, a.Deposit, a.GridCount,
		a.StartPrice, a.EndPrice, a.StopLoss, string(a.Status))
	return errors.Wrap(err, "put account")
}

// Trades returns the recorded trades of one account, oldest first.
func (s *SQLite) Trades(ctx context.Context, accountID int64) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT account_id, symbol, side, price, quantity, status,
		order_id, created_at FROM trades WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, errors.Wrap(err, "query trades")
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		var status, created string
		if err := rows.Scan(&t.AccountID, &t.Symbol, &t.Side, &t.Price, &t.Quantity, &status,
			&t.OrderID, &created); err != nil {
			return nil, errors.Wrap(err, "scan trade")
		}
		t.Status = TradeStatus(status)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		trades = append(trades, t)
	}
	return trades, errors.Wrap(rows.Err(), "iterate trades")
}

func (s *SQLite) Close(context.Context) error {
	return s.db.Close()
}
