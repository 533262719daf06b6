package redisstream

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"quoteflow/internal/domain/model"
)

type Publisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewPublisher writes to stream. maxLen > 0 caps the stream approximately.
func NewPublisher(rdb *redis.Client, stream string, maxLen int64) *Publisher {
	return &Publisher{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Publish appends ev to the stream and returns the entry id. A missing
// message id gets a fresh uuid and a zero timestamp becomes now.
func (p *Publisher) Publish(ctx context.Context, ev *model.QuoteEvent) (string, error) {
	if strings.TrimSpace(ev.MessageID) == "" {
		ev.MessageID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.AssetTicker = strings.ToUpper(strings.TrimSpace(ev.AssetTicker))

	b, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{PayloadField: string(b)},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	return p.rdb.XAdd(ctx, args).Result()
}
