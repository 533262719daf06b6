package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quoteflow/internal/application/port"
	"quoteflow/internal/domain/model"
)

func (r *Repo) Exists(ctx context.Context, messageID string) (bool, error) {
	return exists(ctx, r.db, messageID)
}

func (r *Repo) Mark(ctx context.Context, messageID string, at time.Time) error {
	return mark(ctx, r.db, messageID, at)
}

func (r *Repo) InsertQuote(ctx context.Context, q *model.Quote) error {
	return insertQuote(ctx, r.db, q)
}

// WithinTx runs fn in one sqlite transaction. fn must only touch the store
// through tx; the pool holds a single connection.
func (r *Repo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.QuoteTx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(ctx, txView{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func (r *Repo) LatestQuote(ctx context.Context, assetID int64) (*model.Quote, error) {
	var (
		q                   model.Quote
		quotedAt, createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, asset_id, price, quoted_at, created_at
		FROM quotes WHERE asset_id = ?
		ORDER BY quoted_at DESC, id DESC
		LIMIT 1
	`, assetID).Scan(&q.ID, &q.AssetID, &q.Price, &quotedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrQuoteNotFound
	}
	if err != nil {
		return nil, err
	}
	q.QuotedAt = fromNanos(quotedAt)
	q.CreatedAt = fromNanos(createdAt)
	return &q, nil
}

// CountQuotes returns how many quotes are stored for an asset.
func (r *Repo) CountQuotes(ctx context.Context, assetID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quotes WHERE asset_id = ?`, assetID).Scan(&n)
	return n, err
}

type txView struct {
	q querier
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

func exists(ctx context.Context, q querier, messageID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_messages WHERE message_id = ?`, messageID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func mark(ctx context.Context, q querier, messageID string, at time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT INTO processed_messages(message_id, processed_at) VALUES(?, ?)`,
		messageID, at.UnixNano())
	return err
}

func insertQuote(ctx context.Context, q querier, quote *model.Quote) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO quotes(asset_id, price, quoted_at, created_at) VALUES(?, ?, ?, ?)
	`, quote.AssetID, quote.Price.String(), quote.QuotedAt.UnixNano(), quote.CreatedAt.UnixNano())
	if err != nil {
		return err
	}
	quote.ID, err = res.LastInsertId()
	return err
}

var _ port.QuoteTx = txView{}
