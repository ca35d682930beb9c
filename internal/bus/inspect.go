package bus

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// KeyInfo describes one stored key.
type KeyInfo struct {
	Key  string
	Type string
	// TTL is negative when the key has no expiry.
	TTL  time.Duration
	Size int64
}

// Inspect lists keys matching pattern with their type, TTL, and size.
// It iterates with SCAN and stops after limit keys when limit > 0.
func (c *Client) Inspect(ctx context.Context, pattern string, limit int) ([]KeyInfo, error) {
	if pattern == "" {
		pattern = "*"
	}

	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 || (limit > 0 && len(keys) >= limit) {
			break
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	infos := make([]KeyInfo, 0, len(keys))
	for _, key := range keys {
		info, err := c.describe(ctx, key)
		if err != nil {
			return nil, err
		}
		if info.Type == "none" {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (c *Client) describe(ctx context.Context, key string) (KeyInfo, error) {
	info := KeyInfo{Key: key}

	kind, err := c.rdb.Type(ctx, key).Result()
	if err != nil {
		return KeyInfo{}, fmt.Errorf("type %s: %w", key, err)
	}
	info.Type = kind

	ttl, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return KeyInfo{}, fmt.Errorf("ttl %s: %w", key, err)
	}
	info.TTL = ttl

	if kind == "string" {
		size, err := c.rdb.StrLen(ctx, key).Result()
		if err != nil {
			return KeyInfo{}, fmt.Errorf("strlen %s: %w", key, err)
		}
		info.Size = size
	}
	return info, nil
}
