package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"quoteflow/internal/domain/model"
)

// RecomputeForPrice sets unrealized P&L for every position in the asset.
// Decimals are stored as text, so the arithmetic runs here rather than in SQL.
func (r *Repo) RecomputeForPrice(ctx context.Context, assetID int64, price decimal.Decimal) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	positions, err := listPositions(ctx, tx, assetID)
	if err != nil {
		return err
	}

	now := r.now().UTC().UnixNano()
	for _, p := range positions {
		updated := now
		if prev := p.UpdatedAt.UnixNano(); updated <= prev {
			updated = prev + 1
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE positions SET unrealized_pl = ?, updated_at = ? WHERE id = ?
		`, p.UnrealizedAt(price).String(), updated, p.ID); err != nil {
			return fmt.Errorf("update position %d: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// CreatePosition inserts or replaces the holding of a user in an asset.
func (r *Repo) CreatePosition(ctx context.Context, p *model.Position) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO positions(user_id, asset_id, quantity, average_price, unrealized_pl, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, asset_id) DO UPDATE SET
		quantity=excluded.quantity, average_price=excluded.average_price,
		unrealized_pl=excluded.unrealized_pl, updated_at=excluded.updated_at
		RETURNING id
	`, p.UserID, p.AssetID, p.Quantity.String(), p.AveragePrice.String(), p.UnrealizedPL.String(),
		p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano()).Scan(&p.ID)
}

func (r *Repo) GetPosition(ctx context.Context, userID, assetID int64) (*model.Position, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, asset_id, quantity, average_price, unrealized_pl, created_at, updated_at
		FROM positions WHERE user_id = ? AND asset_id = ?
	`, userID, assetID)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position user=%d asset=%d: %w", userID, assetID, err)
	}
	return p, err
}

func (r *Repo) ListPositions(ctx context.Context, assetID int64) ([]model.Position, error) {
	return listPositions(ctx, r.db, assetID)
}

func (r *Repo) PositionsByUser(ctx context.Context, userID int64) ([]model.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, asset_id, quantity, average_price, unrealized_pl, created_at, updated_at
		FROM positions WHERE user_id = ? ORDER BY asset_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func listPositions(ctx context.Context, q querier, assetID int64) ([]model.Position, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, asset_id, quantity, average_price, unrealized_pl, created_at, updated_at
		FROM positions WHERE asset_id = ? ORDER BY id
	`, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(s scanner) (*model.Position, error) {
	var (
		p                  model.Position
		createdAt, updated int64
	)
	if err := s.Scan(&p.ID, &p.UserID, &p.AssetID, &p.Quantity, &p.AveragePrice, &p.UnrealizedPL, &createdAt, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updated)
	return &p, nil
}
