package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"quoteflow/internal/application/port"
	"quoteflow/internal/domain/model"
)

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db, now: time.Now}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS assets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ticker TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  type TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quotes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  asset_id INTEGER NOT NULL REFERENCES assets(id),
  price TEXT NOT NULL,
  quoted_at INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quotes_asset_ts ON quotes(asset_id, quoted_at);

CREATE TABLE IF NOT EXISTS processed_messages (
  message_id TEXT PRIMARY KEY,
  processed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL,
  asset_id INTEGER NOT NULL REFERENCES assets(id),
  quantity TEXT NOT NULL,
  average_price TEXT NOT NULL,
  unrealized_pl TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  UNIQUE(user_id, asset_id)
);
CREATE INDEX IF NOT EXISTS idx_positions_asset ON positions(asset_id);

CREATE TABLE IF NOT EXISTS operations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL,
  asset_id INTEGER NOT NULL REFERENCES assets(id),
  type TEXT NOT NULL,
  quantity TEXT NOT NULL,
  price TEXT NOT NULL,
  executed_at INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_operations_user_asset ON operations(user_id, asset_id);
`)
	return err
}

func (r *Repo) ResolveTicker(ctx context.Context, ticker string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM assets WHERE ticker = ?`,
		strings.ToUpper(strings.TrimSpace(ticker))).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, port.ErrAssetNotFound
	}
	return id, err
}

func (r *Repo) AssetByID(ctx context.Context, assetID int64) (*model.Asset, error) {
	var (
		a         model.Asset
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, ticker, name, type, created_at FROM assets WHERE id = ?`, assetID).
		Scan(&a.ID, &a.Ticker, &a.Name, &a.Type, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = fromNanos(createdAt)
	return &a, nil
}

// CreateAsset inserts an asset, or returns the id of the existing one with
// the same ticker.
func (r *Repo) CreateAsset(ctx context.Context, a *model.Asset) error {
	a.Ticker = strings.ToUpper(strings.TrimSpace(a.Ticker))
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now().UTC()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO assets(ticker, name, type, created_at) VALUES(?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET name=excluded.name
		RETURNING id
	`, a.Ticker, a.Name, a.Type, a.CreatedAt.UnixNano()).Scan(&a.ID)
	return err
}

func (r *Repo) InsertOperation(ctx context.Context, op *model.Operation) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = r.now().UTC()
	}
	if op.ExecutedAt.IsZero() {
		op.ExecutedAt = op.CreatedAt
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO operations(user_id, asset_id, type, quantity, price, executed_at, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, op.UserID, op.AssetID, string(op.Type), op.Quantity.String(), op.Price.String(),
		op.ExecutedAt.UnixNano(), op.CreatedAt.UnixNano())
	if err != nil {
		return err
	}
	op.ID, err = res.LastInsertId()
	return err
}

func (r *Repo) ListOperations(ctx context.Context, userID, assetID int64) ([]model.Operation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, asset_id, type, quantity, price, executed_at, created_at
		FROM operations WHERE user_id = ? AND asset_id = ?
		ORDER BY executed_at, id
	`, userID, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []model.Operation
	for rows.Next() {
		var (
			op                  model.Operation
			typ                 string
			executed, createdAt int64
		)
		if err := rows.Scan(&op.ID, &op.UserID, &op.AssetID, &typ, &op.Quantity, &op.Price, &executed, &createdAt); err != nil {
			return nil, err
		}
		op.Type = model.OperationType(typ)
		op.ExecutedAt = fromNanos(executed)
		op.CreatedAt = fromNanos(createdAt)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

var (
	_ port.AssetLookup     = (*Repo)(nil)
	_ port.QuoteRepository = (*Repo)(nil)
	_ port.PositionStore   = (*Repo)(nil)
	_ port.OperationStore  = (*Repo)(nil)
	_ port.QuoteReader     = (*Repo)(nil)
	_ port.PortfolioStore  = (*Repo)(nil)
)
