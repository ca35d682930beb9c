// Package capture stores screen captures in the bus side channel and
// publishes batched references to them.
package capture

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Source produces one captured artifact.
type Source interface {
	CaptureOnce(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(context.Context) ([]byte, error)

func (f SourceFunc) CaptureOnce(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// Store keeps encoded artifacts under expiring keys.
type Store interface {
	SetWithTTL(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Publisher delivers payloads to bus topics.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload string) error
}

// Config controls identifiers, storage, and batching.
type Config struct {
	Topic     string
	KeyPrefix string
	IDPrefix  string
	BatchSize int
	TTL       time.Duration
}

// Result describes one successful capture.
type Result struct {
	ID        string
	Key       string
	Reference string
	// Published is true when this capture completed a batch.
	Published bool
	// Pending is the number of references waiting after this capture.
	Pending int
}

// ReferenceLine renders the human-readable pointer published for a capture.
func ReferenceLine(id string) string {
	return "📸 Screenshot captured: " + id
}

// Batcher serializes captures and publishes every BatchSize references as
// one combined message.
type Batcher struct {
	cfg       Config
	source    Source
	store     Store
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	seq      uint64
	count    int
	combined strings.Builder
}

// NewBatcher constructs a batcher. BatchSize defaults to 2.
func NewBatcher(cfg Config, source Source, store Store, publisher Publisher, logger *slog.Logger) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 2
	}
	if cfg.IDPrefix == "" {
		cfg.IDPrefix = "capture"
	}
	return &Batcher{
		cfg:       cfg,
		source:    source,
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Capture obtains, stores, and batches one artifact. Failures leave the
// batch untouched.
func (b *Batcher) Capture(ctx context.Context) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	artifact, err := b.source.CaptureOnce(ctx)
	if err != nil {
		b.warn("capture failed", "error", err.Error())
		return Result{}, fmt.Errorf("capture: %w", err)
	}
	if len(artifact) == 0 {
		b.warn("capture returned empty artifact")
		return Result{}, fmt.Errorf("capture: empty artifact")
	}

	b.seq++
	id := fmt.Sprintf("%s_%d_%d", b.cfg.IDPrefix, b.now().Unix(), b.seq)
	key := b.cfg.KeyPrefix + id

	encoded := base64.StdEncoding.EncodeToString(artifact)
	if err := b.store.SetWithTTL(ctx, key, encoded, b.cfg.TTL); err != nil {
		b.warn("store capture failed", "capture_id", id, "error", err.Error())
		return Result{}, fmt.Errorf("store capture %s: %w", id, err)
	}

	result := Result{ID: id, Key: key, Reference: ReferenceLine(id)}
	b.combined.WriteString("\n" + result.Reference + "\n\n")
	b.count++
	b.info("capture stored", "capture_id", id, "bytes", len(artifact), "pending", b.count)

	if b.count >= b.cfg.BatchSize {
		payload := b.combined.String()
		b.combined.Reset()
		b.count = 0
		result.Published = true
		if err := b.publisher.Publish(ctx, b.cfg.Topic, payload); err != nil {
			b.warn("publish capture batch failed", "topic", b.cfg.Topic, "error", err.Error())
		} else {
			b.info("capture batch published", "topic", b.cfg.Topic, "bytes", len(payload))
		}
	}
	result.Pending = b.count
	return result, nil
}

// Pending returns the number of references waiting for a full batch.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *Batcher) info(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Info(msg, args...)
	}
}

func (b *Batcher) warn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}
