package redisstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quoteflow/internal/application/port"
)

type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError()     {}

func TestClassifyFatalReplies(t *testing.T) {
	for _, msg := range []string{
		"NOAUTH Authentication required.",
		"WRONGTYPE Operation against a key holding the wrong kind of value",
		"NOPERM this user has no permissions",
	} {
		err := classify(replyError(msg))
		assert.ErrorIs(t, err, port.ErrFeedFatal, msg)
	}
}

func TestClassifyTransientErrors(t *testing.T) {
	for _, err := range []error{
		errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"),
		replyError("LOADING Redis is loading the dataset in memory"),
		context.DeadlineExceeded,
	} {
		assert.NotErrorIs(t, classify(err), port.ErrFeedFatal, err.Error())
	}
}

func TestHasPrefixRequiresServerReply(t *testing.T) {
	assert.True(t, hasPrefix(replyError("BUSYGROUP Consumer Group name already exists"), "BUSYGROUP"))
	assert.False(t, hasPrefix(errors.New("BUSYGROUP but not from the server"), "BUSYGROUP"))
}

func TestToFeedMessage(t *testing.T) {
	msg := toFeedMessage("quotes", redis.XMessage{
		ID:     "1700000000000-0",
		Values: map[string]any{PayloadField: `{"messageId":"m1"}`},
	})
	assert.Equal(t, "1700000000000-0", msg.ID)
	assert.Equal(t, "quotes", msg.Stream)
	assert.Equal(t, `{"messageId":"m1"}`, string(msg.Payload))
	assert.False(t, msg.EndOfStream)

	deleted := toFeedMessage("quotes", redis.XMessage{ID: "1-0"})
	assert.Nil(t, deleted.Payload)
}

func TestRewindResetsCursor(t *testing.T) {
	c := NewConsumer(nil, Config{Stream: "s", Group: "g", Consumer: "c"})
	c.cursor = cursorNew
	c.buf = []redis.XMessage{{ID: "1-0"}}

	c.Rewind()

	assert.Equal(t, cursorPending, c.cursor)
	assert.Empty(t, c.buf)
}

func TestClaimArgs(t *testing.T) {
	cfg := Config{Stream: "quotes", Group: "g", Consumer: "host-42", Batch: 25, ClaimMinIdle: time.Minute}

	args := claimArgs(cfg, claimStartID)
	assert.Equal(t, &redis.XAutoClaimArgs{
		Stream:   "quotes",
		Group:    "g",
		Consumer: "host-42",
		MinIdle:  time.Minute,
		Start:    "0-0",
		Count:    25,
	}, args)

	assert.Equal(t, "1700000000000-3", claimArgs(cfg, "1700000000000-3").Start)
}

func TestRearmClaimReturnsToPendingList(t *testing.T) {
	now := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	c := NewConsumer(nil, Config{Stream: "s", Group: "g", Consumer: "c", ClaimMinIdle: time.Minute, ClaimEvery: 30 * time.Second})
	c.now = func() time.Time { return now }
	c.cursor = cursorNew
	c.lastClaim = now.Add(-10 * time.Second)

	c.rearmClaim()
	assert.Equal(t, cursorNew, c.cursor, "too soon")

	now = now.Add(20 * time.Second)
	c.rearmClaim()
	assert.Equal(t, cursorPending, c.cursor)
}

func TestRearmClaimDisabled(t *testing.T) {
	c := NewConsumer(nil, Config{Stream: "s", Group: "g", Consumer: "c"})
	c.cursor = cursorNew

	c.rearmClaim()
	assert.Equal(t, cursorNew, c.cursor)
	assert.NoError(t, c.claimIdle(context.Background()), "no claim without min idle, so no client is needed")
}

func TestCloseClosesAdoptedClient(t *testing.T) {
	c := Adopt(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), Config{Stream: "s", Group: "g", Consumer: "c"})
	c.buf = []redis.XMessage{{ID: "1-0"}}

	require.NoError(t, c.Close())
	assert.Empty(t, c.buf)
	assert.ErrorIs(t, c.rdb.Ping(context.Background()).Err(), redis.ErrClosed)
	assert.NoError(t, c.Close(), "second close is a no-op")
}

func TestCloseLeavesSharedClientOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = rdb.Close() })
	c := NewConsumer(rdb, Config{Stream: "s", Group: "g", Consumer: "c"})

	require.NoError(t, c.Close())
	assert.NotErrorIs(t, rdb.Ping(context.Background()).Err(), redis.ErrClosed)
}
