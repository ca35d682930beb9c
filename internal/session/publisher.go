package session

import "context"

// Publisher delivers payloads to bus topics.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload string) error
}

// PublishFunc adapts a function to the Publisher interface.
type PublishFunc func(ctx context.Context, topic string, payload string) error

func (f PublishFunc) Publish(ctx context.Context, topic string, payload string) error {
	return f(ctx, topic, payload)
}

// Status payloads published on the status topic.
const (
	StatusStarted = "SPEECH_STARTED"
	StatusStopped = "SPEECH_STOPPED"
)
