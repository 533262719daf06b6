package redisstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quoteflow/internal/application/port"
)

// PayloadField is the stream entry field that carries the JSON event.
const PayloadField = "payload"

// cursorNew asks XREADGROUP for entries never delivered to the group.
const cursorNew = ">"

// cursorPending replays this consumer's unacknowledged entries from the start.
const cursorPending = "0"

// claimStartID is where XAUTOCLAIM begins and the cursor it returns once the
// whole pending list has been scanned.
const claimStartID = "0-0"

// fatalPrefixes are server replies that retrying will not fix.
var fatalPrefixes = []string{"NOAUTH", "WRONGPASS", "NOPERM", "WRONGTYPE"}

type Config struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	Batch    int64

	// ClaimMinIdle is the idle time after which entries pending on other
	// consumers of the group are taken over. Zero disables claiming.
	ClaimMinIdle time.Duration
	// ClaimEvery is how often a consumer that is reading new entries goes
	// back to claim and replay.
	ClaimEvery time.Duration
}

// Consumer reads a Redis stream through a consumer group. Entries stay in the
// group's pending list until Commit acks them, so anything fetched but not
// committed is delivered again after Rewind, a restart, or a claim by another
// consumer of the group.
type Consumer struct {
	rdb       *redis.Client
	owned     bool
	closeOnce sync.Once
	cfg       Config
	now       func() time.Time

	mu         sync.Mutex
	groupReady bool
	cursor     string
	lastClaim  time.Time
	buf        []redis.XMessage
}

// NewConsumer reads through rdb, which stays open after Close.
func NewConsumer(rdb *redis.Client, cfg Config) *Consumer {
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 10
	}
	if cfg.ClaimEvery <= 0 {
		cfg.ClaimEvery = 30 * time.Second
	}
	return &Consumer{rdb: rdb, cfg: cfg, now: time.Now, cursor: cursorPending}
}

// Adopt takes ownership of rdb, which should serve only this consumer.
// Close closes it, which also cuts short a blocked XREADGROUP.
func Adopt(rdb *redis.Client, cfg Config) *Consumer {
	c := NewConsumer(rdb, cfg)
	c.owned = true
	return c
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	if c.groupReady {
		return nil
	}
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !hasPrefix(err, "BUSYGROUP") {
		return classify(fmt.Errorf("create group %s: %w", c.cfg.Group, err))
	}
	c.groupReady = true
	log.Info().Str("stream", c.cfg.Stream).Str("group", c.cfg.Group).Str("consumer", c.cfg.Consumer).Msg("consumer group ready")
	return nil
}

// Fetch returns the next entry. An empty poll yields EndOfStream.
func (c *Consumer) Fetch(ctx context.Context) (port.FeedMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.buf) == 0 {
		if err := c.fill(ctx); err != nil {
			return port.FeedMessage{}, err
		}
	}
	if len(c.buf) == 0 {
		return port.FeedMessage{Stream: c.cfg.Stream, EndOfStream: true}, nil
	}

	m := c.buf[0]
	c.buf = c.buf[1:]
	return toFeedMessage(c.cfg.Stream, m), nil
}

func (c *Consumer) fill(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	c.rearmClaim()
	if c.cursor == cursorPending {
		if err := c.claimIdle(ctx); err != nil {
			return err
		}
	}

	replaying := c.cursor != cursorNew
	block := c.cfg.Block
	if replaying {
		// history reads never block; a negative value omits BLOCK
		block = -1
	}

	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, c.cursor},
		Count:    c.cfg.Batch,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		if hasPrefix(err, "NOGROUP") {
			// group or stream was deleted under us; recreate on next fetch
			c.groupReady = false
		}
		return classify(fmt.Errorf("xreadgroup %s: %w", c.cfg.Stream, err))
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}

	if replaying {
		if len(msgs) == 0 {
			log.Debug().Str("stream", c.cfg.Stream).Msg("pending list drained, reading new entries")
			c.cursor = cursorNew
			return nil
		}
		c.cursor = msgs[len(msgs)-1].ID
	}
	c.buf = msgs
	return nil
}

// rearmClaim sends a consumer that is reading new entries back through the
// pending list once ClaimEvery has passed since the last claim.
func (c *Consumer) rearmClaim() {
	if c.cfg.ClaimMinIdle <= 0 || c.cursor != cursorNew {
		return
	}
	if c.now().Sub(c.lastClaim) >= c.cfg.ClaimEvery {
		c.cursor = cursorPending
	}
}

// claimIdle moves entries idle for ClaimMinIdle on any consumer of the group
// into this consumer's pending list. The replay that follows delivers them.
func (c *Consumer) claimIdle(ctx context.Context) error {
	if c.cfg.ClaimMinIdle <= 0 {
		return nil
	}
	c.lastClaim = c.now()

	claimed := 0
	start := claimStartID
	for {
		ids, next, err := c.rdb.XAutoClaimJustID(ctx, claimArgs(c.cfg, start)).Result()
		if err != nil {
			if hasPrefix(err, "NOGROUP") {
				c.groupReady = false
			}
			return classify(fmt.Errorf("xautoclaim %s: %w", c.cfg.Stream, err))
		}
		claimed += len(ids)
		if next == claimStartID || next == "" {
			break
		}
		start = next
	}

	if claimed > 0 {
		log.Warn().
			Str("stream", c.cfg.Stream).
			Str("consumer", c.cfg.Consumer).
			Int("claimed", claimed).
			Dur("min_idle", c.cfg.ClaimMinIdle).
			Msg("claimed idle entries from other consumers")
	}
	return nil
}

func claimArgs(cfg Config, start string) *redis.XAutoClaimArgs {
	return &redis.XAutoClaimArgs{
		Stream:   cfg.Stream,
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		MinIdle:  cfg.ClaimMinIdle,
		Start:    start,
		Count:    cfg.Batch,
	}
}

// Commit acknowledges the entry for the group.
func (c *Consumer) Commit(ctx context.Context, msg port.FeedMessage) error {
	if msg.EndOfStream || msg.ID == "" {
		return nil
	}
	if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return classify(fmt.Errorf("xack %s: %w", msg.ID, err))
	}
	return nil
}

func (c *Consumer) Rewind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = cursorPending
	c.buf = nil
}

// Close drops buffered entries and, for a consumer made by Adopt, closes its
// client. Unacked entries stay pending for the group either way.
func (c *Consumer) Close() error {
	var err error
	if c.owned {
		// not under mu, so a blocked fill is cut short
		c.closeOnce.Do(func() { err = c.rdb.Close() })
	}
	c.mu.Lock()
	c.buf = nil
	c.mu.Unlock()
	return err
}

func toFeedMessage(stream string, m redis.XMessage) port.FeedMessage {
	msg := port.FeedMessage{ID: m.ID, Stream: stream}
	switch v := m.Values[PayloadField].(type) {
	case string:
		msg.Payload = []byte(v)
	case []byte:
		msg.Payload = v
	}
	return msg
}

func classify(err error) error {
	for _, p := range fatalPrefixes {
		if hasPrefix(err, p) {
			return fmt.Errorf("%w: %w", port.ErrFeedFatal, err)
		}
	}
	return err
}

func hasPrefix(err error, prefix string) bool {
	var rerr redis.Error
	if !errors.As(err, &rerr) {
		return false
	}
	return strings.HasPrefix(rerr.Error(), prefix)
}

var _ port.FeedConsumer = (*Consumer)(nil)
