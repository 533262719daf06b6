package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoteflow/internal/application/port"
	"quoteflow/internal/domain/model"
)

// memQuoteRepo stages writes per transaction and publishes them on commit.
type memQuoteRepo struct {
	mu      sync.Mutex
	quotes  []model.Quote
	markers map[string]time.Time

	failInsert error
	failMark   error
	txCount    int
}

func newMemQuoteRepo() *memQuoteRepo {
	return &memQuoteRepo{markers: make(map[string]time.Time)}
}

func (r *memQuoteRepo) Exists(ctx context.Context, messageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.markers[messageID]
	return ok, nil
}

func (r *memQuoteRepo) Mark(ctx context.Context, messageID string, at time.Time) error {
	return errors.New("mark outside a transaction")
}

func (r *memQuoteRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.QuoteTx) error) error {
	r.mu.Lock()
	r.txCount++
	r.mu.Unlock()

	tx := &memTx{repo: r, markers: make(map[string]time.Time)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range tx.markers {
		if _, dup := r.markers[id]; dup {
			return errors.New("unique violation on message_id")
		}
	}
	r.quotes = append(r.quotes, tx.quotes...)
	for id, at := range tx.markers {
		r.markers[id] = at
	}
	return nil
}

func (r *memQuoteRepo) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.quotes), len(r.markers)
}

type memTx struct {
	repo    *memQuoteRepo
	quotes  []model.Quote
	markers map[string]time.Time
}

func (t *memTx) InsertQuote(ctx context.Context, q *model.Quote) error {
	if t.repo.failInsert != nil {
		return t.repo.failInsert
	}
	t.quotes = append(t.quotes, *q)
	return nil
}

func (t *memTx) Exists(ctx context.Context, messageID string) (bool, error) {
	if _, ok := t.markers[messageID]; ok {
		return true, nil
	}
	return t.repo.Exists(ctx, messageID)
}

func (t *memTx) Mark(ctx context.Context, messageID string, at time.Time) error {
	if t.repo.failMark != nil {
		return t.repo.failMark
	}
	t.markers[messageID] = at
	return nil
}

func testQuote() *model.Quote {
	return &model.Quote{
		AssetID:  7,
		Price:    decimal.RequireFromString("31.42"),
		QuotedAt: time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC),
	}
}

func TestQuoteProcessorAppliesOnce(t *testing.T) {
	repo := newMemQuoteRepo()
	p := NewQuoteProcessor(repo)
	ctx := context.Background()

	outcome, err := p.Process(ctx, testQuote(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	outcome, err = p.Process(ctx, testQuote(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	quotes, markers := repo.counts()
	assert.Equal(t, 1, quotes)
	assert.Equal(t, 1, markers)
	assert.Equal(t, 1, repo.txCount, "duplicate must be detected before any write")
}

func TestQuoteProcessorMarkFailureLeavesNothing(t *testing.T) {
	repo := newMemQuoteRepo()
	injected := errors.New("disk full")
	repo.failMark = injected
	p := NewQuoteProcessor(repo)

	_, err := p.Process(context.Background(), testQuote(), "msg-2")
	assert.ErrorIs(t, err, injected)

	quotes, markers := repo.counts()
	assert.Zero(t, quotes)
	assert.Zero(t, markers)

	// redelivery after the fault is applied normally
	repo.failMark = nil
	outcome, err := p.Process(context.Background(), testQuote(), "msg-2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	quotes, markers = repo.counts()
	assert.Equal(t, 1, quotes)
	assert.Equal(t, 1, markers)
}

func TestQuoteProcessorInsertFailurePropagates(t *testing.T) {
	repo := newMemQuoteRepo()
	injected := errors.New("connection reset")
	repo.failInsert = injected
	p := NewQuoteProcessor(repo)

	_, err := p.Process(context.Background(), testQuote(), "msg-3")
	assert.True(t, err == injected, "error must be returned unchanged, got %v", err)
	quotes, markers := repo.counts()
	assert.Zero(t, quotes)
	assert.Zero(t, markers)
}

func TestQuoteProcessorRejectsMissingMessageID(t *testing.T) {
	repo := newMemQuoteRepo()
	p := NewQuoteProcessor(repo)

	_, err := p.Process(context.Background(), testQuote(), "  ")
	assert.ErrorIs(t, err, ErrMissingMessageID)
	assert.Zero(t, repo.txCount)
}

func TestQuoteProcessorStampsTimes(t *testing.T) {
	repo := newMemQuoteRepo()
	p := NewQuoteProcessor(repo)
	fixed := time.Date(2024, 5, 5, 5, 5, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	q := &model.Quote{AssetID: 1, Price: decimal.NewFromInt(10)}
	_, err := p.Process(context.Background(), q, "msg-4")
	require.NoError(t, err)
	assert.Equal(t, fixed, q.QuotedAt)
	assert.Equal(t, fixed, q.CreatedAt)
	assert.Equal(t, fixed, repo.markers["msg-4"])
}
