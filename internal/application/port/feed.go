package port

import (
	"context"
	"errors"
)

// ErrFeedFatal marks feed errors that retrying cannot fix.
var ErrFeedFatal = errors.New("fatal feed error")

// FeedMessage is one record pulled from the quote feed.
type FeedMessage struct {
	ID      string
	Stream  string
	Payload []byte
	// EndOfStream is set when a poll returned nothing new. Not an error.
	EndOfStream bool
}

// FeedConsumer pulls records for a consumer group with manual acknowledgment.
type FeedConsumer interface {
	Fetch(ctx context.Context) (FeedMessage, error)
	Commit(ctx context.Context, msg FeedMessage) error
	// Rewind makes the next Fetch start again from the unacknowledged records.
	Rewind()
	// Close drops buffered records. Unacknowledged records stay pending and
	// are delivered again to this consumer or claimed by another one.
	Close() error
}
