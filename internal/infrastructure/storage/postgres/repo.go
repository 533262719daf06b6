package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"quoteflow/internal/application/port"
	"quoteflow/internal/domain/model"
)

type Repo struct {
	pool *pgxpool.Pool
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func New(ctx context.Context, dsn string, maxConns int) (*Repo, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r := &Repo{pool: pool}
	if err := r.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error {
	r.pool.Close()
	return nil
}

// schema keeps NUMERIC unconstrained so stored prices and P&L carry the
// same digits as the decimals that produced them.
const schema = `
CREATE TABLE IF NOT EXISTS assets (
  id BIGSERIAL PRIMARY KEY,
  ticker TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  type TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS quotes (
  id BIGSERIAL PRIMARY KEY,
  asset_id BIGINT NOT NULL REFERENCES assets(id),
  price NUMERIC NOT NULL CHECK (price >= 0),
  quoted_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quotes_asset_ts ON quotes(asset_id, quoted_at);

CREATE TABLE IF NOT EXISTS processed_messages (
  message_id TEXT PRIMARY KEY,
  processed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  asset_id BIGINT NOT NULL REFERENCES assets(id),
  quantity NUMERIC NOT NULL,
  average_price NUMERIC NOT NULL,
  unrealized_pl NUMERIC NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(user_id, asset_id)
);
CREATE INDEX IF NOT EXISTS idx_positions_asset ON positions(asset_id);

CREATE TABLE IF NOT EXISTS operations (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL,
  asset_id BIGINT NOT NULL REFERENCES assets(id),
  type TEXT NOT NULL CHECK (type IN ('BUY', 'SELL')),
  quantity NUMERIC NOT NULL,
  price NUMERIC NOT NULL,
  executed_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_operations_user_asset ON operations(user_id, asset_id);
`

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

func (r *Repo) ResolveTicker(ctx context.Context, ticker string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM assets WHERE ticker = $1`,
		strings.ToUpper(strings.TrimSpace(ticker))).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, port.ErrAssetNotFound
	}
	return id, err
}

func (r *Repo) CreateAsset(ctx context.Context, a *model.Asset) error {
	a.Ticker = strings.ToUpper(strings.TrimSpace(a.Ticker))
	return r.pool.QueryRow(ctx, `
		INSERT INTO assets(ticker, name, type) VALUES($1, $2, $3)
		ON CONFLICT(ticker) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, created_at
	`, a.Ticker, a.Name, a.Type).Scan(&a.ID, &a.CreatedAt)
}

func (r *Repo) AssetByID(ctx context.Context, assetID int64) (*model.Asset, error) {
	var a model.Asset
	err := r.pool.QueryRow(ctx, `SELECT id, ticker, name, type, created_at FROM assets WHERE id = $1`, assetID).
		Scan(&a.ID, &a.Ticker, &a.Name, &a.Type, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrAssetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repo) LatestQuote(ctx context.Context, assetID int64) (*model.Quote, error) {
	var (
		q     model.Quote
		price string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, asset_id, price::text, quoted_at, created_at
		FROM quotes WHERE asset_id = $1
		ORDER BY quoted_at DESC, id DESC
		LIMIT 1
	`, assetID).Scan(&q.ID, &q.AssetID, &price, &q.QuotedAt, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, port.ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	if q.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("quote %d price: %w", q.ID, err)
	}
	return &q, nil
}

func (r *Repo) Exists(ctx context.Context, messageID string) (bool, error) {
	return exists(ctx, r.pool, messageID)
}

func (r *Repo) Mark(ctx context.Context, messageID string, at time.Time) error {
	return mark(ctx, r.pool, messageID, at)
}

func (r *Repo) InsertQuote(ctx context.Context, q *model.Quote) error {
	return insertQuote(ctx, r.pool, q)
}

func (r *Repo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.QuoteTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, txView{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// RecomputeForPrice runs the P&L update as one statement so NUMERIC math
// stays in the database. updated_at moves forward even within one clock tick.
func (r *Repo) RecomputeForPrice(ctx context.Context, assetID int64, price decimal.Decimal) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE positions
		SET unrealized_pl = quantity * ($2::numeric - average_price),
		    updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
		WHERE asset_id = $1
	`, assetID, price.String())
	return err
}

func (r *Repo) CreatePosition(ctx context.Context, p *model.Position) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO positions(user_id, asset_id, quantity, average_price, unrealized_pl)
		VALUES($1, $2, $3::numeric, $4::numeric, $5::numeric)
		ON CONFLICT(user_id, asset_id) DO UPDATE SET
		quantity = EXCLUDED.quantity, average_price = EXCLUDED.average_price,
		unrealized_pl = EXCLUDED.unrealized_pl, updated_at = now()
		RETURNING id, created_at, updated_at
	`, p.UserID, p.AssetID, p.Quantity.String(), p.AveragePrice.String(), p.UnrealizedPL.String()).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

const positionColumns = `id, user_id, asset_id, quantity::text, average_price::text, unrealized_pl::text, created_at, updated_at`

func (r *Repo) ListPositions(ctx context.Context, assetID int64) ([]model.Position, error) {
	return r.queryPositions(ctx, `SELECT `+positionColumns+` FROM positions WHERE asset_id = $1 ORDER BY id`, assetID)
}

func (r *Repo) PositionsByUser(ctx context.Context, userID int64) ([]model.Position, error) {
	return r.queryPositions(ctx, `SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY asset_id`, userID)
}

func (r *Repo) queryPositions(ctx context.Context, query string, arg int64) ([]model.Position, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var (
			p             model.Position
			qty, avg, upl string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.AssetID, &qty, &avg, &upl, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if p.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("position %d quantity: %w", p.ID, err)
		}
		if p.AveragePrice, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("position %d average price: %w", p.ID, err)
		}
		if p.UnrealizedPL, err = decimal.NewFromString(upl); err != nil {
			return nil, fmt.Errorf("position %d unrealized pl: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) InsertOperation(ctx context.Context, op *model.Operation) error {
	if op.ExecutedAt.IsZero() {
		op.ExecutedAt = time.Now().UTC()
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO operations(user_id, asset_id, type, quantity, price, executed_at)
		VALUES($1, $2, $3, $4::numeric, $5::numeric, $6)
		RETURNING id, created_at
	`, op.UserID, op.AssetID, string(op.Type), op.Quantity.String(), op.Price.String(), op.ExecutedAt).
		Scan(&op.ID, &op.CreatedAt)
}

func (r *Repo) ListOperations(ctx context.Context, userID, assetID int64) ([]model.Operation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, asset_id, type, quantity::text, price::text, executed_at, created_at
		FROM operations WHERE user_id = $1 AND asset_id = $2
		ORDER BY executed_at, id
	`, userID, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []model.Operation
	for rows.Next() {
		var (
			op         model.Operation
			typ        string
			qty, price string
		)
		if err := rows.Scan(&op.ID, &op.UserID, &op.AssetID, &typ, &qty, &price, &op.ExecutedAt, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.Type = model.OperationType(typ)
		if op.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("operation %d quantity: %w", op.ID, err)
		}
		if op.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("operation %d price: %w", op.ID, err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

type txView struct {
	q dbtx
}

func (t txView) Exists(ctx context.Context, messageID string) (bool, error) {
	return exists(ctx, t.q, messageID)
}

func (t txView) Mark(ctx context.Context, messageID string, at time.Time) error {
	return mark(ctx, t.q, messageID, at)
}

func (t txView) InsertQuote(ctx context.Context, q *model.Quote) error {
	return insertQuote(ctx, t.q, q)
}

func exists(ctx context.Context, q dbtx, messageID string) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_messages WHERE message_id = $1)`, messageID).Scan(&ok)
	return ok, err
}

func mark(ctx context.Context, q dbtx, messageID string, at time.Time) error {
	_, err := q.Exec(ctx, `INSERT INTO processed_messages(message_id, processed_at) VALUES($1, $2)`, messageID, at)
	return err
}

func insertQuote(ctx context.Context, q dbtx, quote *model.Quote) error {
	return q.QueryRow(ctx, `
		INSERT INTO quotes(asset_id, price, quoted_at, created_at) VALUES($1, $2::numeric, $3, $4)
		RETURNING id
	`, quote.AssetID, quote.Price.String(), quote.QuotedAt, quote.CreatedAt).Scan(&quote.ID)
}

var (
	_ port.AssetLookup     = (*Repo)(nil)
	_ port.QuoteRepository = (*Repo)(nil)
	_ port.PositionStore   = (*Repo)(nil)
	_ port.OperationStore  = (*Repo)(nil)
	_ port.QuoteReader     = (*Repo)(nil)
	_ port.PortfolioStore  = (*Repo)(nil)
	_ port.QuoteTx         = txView{}
)
