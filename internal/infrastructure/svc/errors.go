package svc

import "errors"

// ErrStorageInitFailed is returned when the configured store cannot be opened.
var ErrStorageInitFailed = errors.New("storage initialization failed")

// ErrFeedInitFailed is returned when the feed broker is unreachable.
var ErrFeedInitFailed = errors.New("feed initialization failed")
