package orderserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/granola/granola/internal/domain"
)

// SQLiteRepo 订单表与原有服务保持同样的结构（orders 表，金额为 REAL）
type SQLiteRepo struct {
	db *sql.DB
}

// OpenSQLite 打开（必要时创建）数据库并建表
func OpenSQLite(path string) (*SQLiteRepo, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	r := &SQLiteRepo{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepo) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  make_amount REAL NOT NULL,
  make_denomination TEXT NOT NULL,
  take_amount REAL NOT NULL,
  take_denomination TEXT NOT NULL
);`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (r *SQLiteRepo) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id,kind,make_amount,make_denomination,take_amount,take_denomination
FROM orders ORDER BY rowid
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Order, 0)
	for rows.Next() {
		var (
			o                    domain.Order
			kind, makeD, takeD   string
			makeAmount, takeAmnt float64
		)
		if err := rows.Scan(&o.ID, &kind, &makeAmount, &makeD, &takeAmnt, &takeD); err != nil {
			return nil, err
		}
		o.Kind = domain.OrderKind(kind)
		o.MakeAmount = decimal.NewFromFloat(makeAmount)
		o.MakeDenomination = domain.Currency(makeD)
		o.TakeAmount = decimal.NewFromFloat(takeAmnt)
		o.TakeDenomination = domain.Currency(takeD)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) Insert(ctx context.Context, o domain.Order) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO orders (id,kind,make_amount,make_denomination,take_amount,take_denomination)
VALUES (?,?,?,?,?,?)
`, o.ID, string(o.Kind), o.MakeAmount.InexactFloat64(), o.MakeDenomination.String(),
		o.TakeAmount.InexactFloat64(), o.TakeDenomination.String())
	return err
}

func (r *SQLiteRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders`).Scan(&n)
	return n, err
}

func (r *SQLiteRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
