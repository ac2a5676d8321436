package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shamank/ivxp-sdk-go/pkg/ivxperr"
	"github.com/shamank/ivxp-sdk-go/pkg/model"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists orders in a SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
	now   func() time.Time
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStore uses an existing handle and creates the schema if needed.
// The caller keeps ownership of db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate orders: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		client_name TEXT NOT NULL DEFAULT '',
		client_address TEXT NOT NULL,
		service_type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		delivery_format TEXT NOT NULL DEFAULT '',
		price_usdc TEXT NOT NULL,
		payment_address TEXT NOT NULL,
		network TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		quote_expires_at TEXT NOT NULL DEFAULT '',
		tx_hash TEXT NOT NULL DEFAULT '',
		delivery_endpoint TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS orders_status_created ON orders (status, created_at);
	CREATE TABLE IF NOT EXISTS used_txs (
		tx_hash TEXT PRIMARY KEY,
		order_id TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

const orderColumns = `order_id, status, client_name, client_address, service_type, description, delivery_format,
	price_usdc, payment_address, network, created_at, updated_at, quote_expires_at, tx_hash, delivery_endpoint, content_hash`

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *SQLiteStore) Create(ctx context.Context, o *model.Order) error {
	if err := checkNew(o); err != nil {
		return err
	}
	updated := o.UpdatedAt
	if updated.IsZero() {
		updated = o.CreatedAt
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if o.TxHash != "" {
			if err := s.claimTx(ctx, tx, o.TxHash, o.OrderID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.OrderID, string(o.Status), o.ClientName, o.ClientAddress, o.ServiceType, o.Description, o.DeliveryFormat,
			o.Price.String(), o.PaymentAddress, o.Network, formatTime(o.CreatedAt), formatTime(updated),
			formatTime(o.QuoteExpiresAt), o.TxHash, o.DeliveryEndpoint, o.ContentHash)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return fmt.Errorf("%w: %s", ErrExists, o.OrderID)
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}
		return nil
	})
}

func (s *SQLiteStore) Get(ctx context.Context, orderID string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ivxperr.OrderNotFound(orderID)
	}
	return o, err
}

func (s *SQLiteStore) Update(ctx context.Context, orderID string, patch model.Patch) (*model.Order, error) {
	if patch.Status != nil {
		return nil, fmt.Errorf("%w: use Transition to change status", ErrInvalidTransition)
	}
	return s.write(ctx, orderID, "", patch)
}

func (s *SQLiteStore) Transition(ctx context.Context, orderID string, from, to model.OrderStatus, patch model.Patch) (*model.Order, error) {
	if err := checkTransition(orderID, from, to); err != nil {
		return nil, err
	}
	patch.Status = &to
	return s.write(ctx, orderID, from, patch)
}

// write applies patch in one transaction. A non-empty from makes the update
// conditional on the current status.
func (s *SQLiteStore) write(ctx context.Context, orderID string, from model.OrderStatus, patch model.Patch) (*model.Order, error) {
	var out *model.Order
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if patch.TxHash != nil && *patch.TxHash != "" {
			if err := s.claimTx(ctx, tx, *patch.TxHash, orderID); err != nil {
				return err
			}
		}

		query := `UPDATE orders SET
			status = COALESCE(?, status),
			tx_hash = COALESCE(?, tx_hash),
			delivery_endpoint = COALESCE(?, delivery_endpoint),
			content_hash = COALESCE(?, content_hash),
			updated_at = ?
			WHERE order_id = ?`
		args := []any{nullStatus(patch.Status), nullString(patch.TxHash), nullString(patch.DeliveryEndpoint),
			nullString(patch.ContentHash), formatTime(s.now()), orderID}
		if from != "" {
			query += ` AND status = ?`
			args = append(args, string(from))
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update order: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var status string
			err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE order_id = ?`, orderID).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return ivxperr.OrderNotFound(orderID)
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: order %s is %s, expected %s", ErrConflict, orderID, status, from)
		}

		out, err = scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, orderID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// claimTx records txHash as used by orderID, failing if another order owns it.
func (s *SQLiteStore) claimTx(ctx context.Context, tx *sql.Tx, txHash, orderID string) error {
	key := normTx(txHash)
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO used_txs (tx_hash, order_id) VALUES (?, ?)`, key, orderID)
	if err != nil {
		return fmt.Errorf("failed to record tx: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	var owner string
	if err := tx.QueryRowContext(ctx, `SELECT order_id FROM used_txs WHERE tx_hash = ?`, key).Scan(&owner); err != nil {
		return err
	}
	if owner != orderID {
		return txUsed(txHash, owner)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var args []any
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC, order_id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []*model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, orderID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE order_id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ivxperr.OrderNotFound(orderID)
	}
	return nil
}

// Close closes the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o                              model.Order
		status, price                  string
		created, updated, quoteExpires string
	)
	err := row.Scan(&o.OrderID, &status, &o.ClientName, &o.ClientAddress, &o.ServiceType, &o.Description,
		&o.DeliveryFormat, &price, &o.PaymentAddress, &o.Network, &created, &updated, &quoteExpires,
		&o.TxHash, &o.DeliveryEndpoint, &o.ContentHash)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	o.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("order %s: bad price %q: %w", o.OrderID, price, err)
	}
	o.CreatedAt = parseTime(created)
	o.UpdatedAt = parseTime(updated)
	o.QuoteExpiresAt = parseTime(quoteExpires)
	return &o, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullStatus(p *model.OrderStatus) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*p), Valid: true}
}
