package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"quoteflow/internal/application/port"
)

// Repo keeps the latest price per asset in a hash and announces changes on a
// pub/sub channel.
type Repo struct {
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	keyLatest string // prefix + ":latest"
	channel   string
	now       func() time.Time
}

type LatestPrice struct {
	AssetID int64           `json:"asset_id"`
	Price   decimal.Decimal `json:"price"`
	Ts      int64           `json:"ts_ms"`
}

func New(rdb *redis.Client, prefix string, ttl time.Duration, channel string) *Repo {
	if strings.TrimSpace(channel) == "" {
		channel = prefix + ":prices:pub"
	}
	return &Repo{
		rdb:       rdb,
		prefix:    prefix,
		ttl:       ttl,
		keyLatest: prefix + ":latest",
		channel:   channel,
		now:       time.Now,
	}
}

func (r *Repo) RecomputeForPrice(ctx context.Context, assetID int64, price decimal.Decimal) error {
	if price.IsNegative() {
		return nil
	}
	lp := LatestPrice{AssetID: assetID, Price: price, Ts: r.now().UnixMilli()}
	b, err := json.Marshal(lp)
	if err != nil {
		return err
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.keyLatest, strconv.FormatInt(assetID, 10), string(b))
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keyLatest, r.ttl)
	}
	pipe.Publish(ctx, r.channel, string(b))
	_, err = pipe.Exec(ctx)
	return err
}

// Latest reads the cached price of an asset. ok is false when none is cached.
func (r *Repo) Latest(ctx context.Context, assetID int64) (lp LatestPrice, ok bool, err error) {
	raw, err := r.rdb.HGet(ctx, r.keyLatest, strconv.FormatInt(assetID, 10)).Result()
	if err == redis.Nil {
		return lp, false, nil
	}
	if err != nil {
		return lp, false, err
	}
	if err := json.Unmarshal([]byte(raw), &lp); err != nil {
		return lp, false, err
	}
	return lp, true, nil
}

var _ port.PositionStore = (*Repo)(nil)
