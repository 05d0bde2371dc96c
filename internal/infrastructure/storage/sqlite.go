package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/options_cycle_trader/internal/domain"
)

// SQLiteStore is the trade journal of the running process. It is cleared
// when opened: nothing recorded here outlives the session.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.truncate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			cycle INTEGER NOT NULL,
			token INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			requested_price REAL NOT NULL,
			executed_price REAL NOT NULL DEFAULT 0,
			quantity INTEGER NOT NULL,
			tag TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			live BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_session ON orders(session_id, cycle);`,
		`CREATE TABLE IF NOT EXISTS cycle_results (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			strategy TEXT NOT NULL,
			cycle INTEGER NOT NULL,
			realized_pnl REAL NOT NULL,
			reason TEXT NOT NULL,
			buybacks INTEGER NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cycle_results_session ON cycle_results(session_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) truncate() error {
	for _, table := range []string{"orders", "cycle_results"} {
		if _, err := s.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	query := `INSERT INTO orders (id, session_id, cycle, token, symbol, side, requested_price, executed_price, quantity, tag, status, live, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		order.ID, order.SessionID, order.Cycle, order.Token, order.Symbol, string(order.Side),
		order.RequestedPrice, order.ExecutedPrice, order.Quantity, order.Tag, order.Status, order.Live, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateFill(ctx context.Context, orderID string, executedPrice float64, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET executed_price = ?, status = ? WHERE id = ?`, executedPrice, status, orderID)
	if err != nil {
		return fmt.Errorf("update fill %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update fill: order %s not found", orderID)
	}
	return nil
}

// ListOrders returns the newest orders first. An empty sessionID lists all
// sessions; a non-positive limit returns everything.
func (s *SQLiteStore) ListOrders(ctx context.Context, sessionID string, limit int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, session_id, cycle, token, symbol, side, requested_price, executed_price, quantity, tag, status, live, created_at
			  FROM orders WHERE (? = '' OR session_id = ?) ORDER BY seq DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, sessionID, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var (
			o    domain.Order
			side string
		)
		if err := rows.Scan(&o.ID, &o.SessionID, &o.Cycle, &o.Token, &o.Symbol, &side, &o.RequestedPrice, &o.ExecutedPrice, &o.Quantity, &o.Tag, &o.Status, &o.Live, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Side = domain.Side(side)
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) SaveCycleResult(ctx context.Context, result *domain.CycleResult) error {
	query := `INSERT INTO cycle_results (session_id, strategy, cycle, realized_pnl, reason, buybacks, closed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		result.SessionID, result.Strategy, result.Cycle, result.RealizedPnL, result.Reason, result.BuyBacks, result.ClosedAt)
	if err != nil {
		return fmt.Errorf("save cycle result %s/%d: %w", result.SessionID, result.Cycle, err)
	}
	return nil
}

func (s *SQLiteStore) ListCycleResults(ctx context.Context, sessionID string) ([]*domain.CycleResult, error) {
	query := `SELECT session_id, strategy, cycle, realized_pnl, reason, buybacks, closed_at
			  FROM cycle_results WHERE (? = '' OR session_id = ?) ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, sessionID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*domain.CycleResult
	for rows.Next() {
		var r domain.CycleResult
		if err := rows.Scan(&r.SessionID, &r.Strategy, &r.Cycle, &r.RealizedPnL, &r.Reason, &r.BuyBacks, &r.ClosedAt); err != nil {
			return nil, err
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}
