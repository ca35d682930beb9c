package session

import (
	"context"
	"errors"
)

// ErrProviderConnect reports that the transcript feed could not be opened.
var ErrProviderConnect = errors.New("transcript provider connect failed")

// EventKind classifies feed events.
type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventFragment
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventFragment:
		return "fragment"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one notification from a transcript feed.
type Event struct {
	Kind EventKind
	// ProviderSessionID is set on EventOpen.
	ProviderSessionID string
	Text              string
	Final             bool
	Err               error
}

// Feed is an open streaming transcription. Events is closed once the feed
// has fully stopped; Close must unblock any pending provider I/O.
type Feed interface {
	Events() <-chan Event
	Close() error
}

// FeedSource opens feeds. ctx bounds the connect only; the feed lives until Close.
type FeedSource interface {
	Open(ctx context.Context) (Feed, error)
}

// FeedSourceFunc adapts a function to the FeedSource interface.
type FeedSourceFunc func(context.Context) (Feed, error)

func (f FeedSourceFunc) Open(ctx context.Context) (Feed, error) {
	return f(ctx)
}
