package visitors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const setKeyPrefix = "known_ids:"

// DefaultTimeout bounds each Redis call made by the tracker.
const DefaultTimeout = 5 * time.Second

// RedisTracker records which visitor signatures have been seen per website in
// one Redis set per site. Sets grow without expiry: dedup state is permanent
// by design, so "unique" keeps meaning first-ever.
type RedisTracker struct {
	client  *redis.Client
	logger  *slog.Logger
	timeout time.Duration
}

// NewRedisTracker wraps an existing client; the caller owns the connection
// and closes it on shutdown.
func NewRedisTracker(client *redis.Client, logger *slog.Logger, timeout time.Duration) *RedisTracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RedisTracker{client: client, logger: logger, timeout: timeout}
}

func setKey(websiteID string) string {
	return setKeyPrefix + websiteID
}

// CheckAndMarkSeen reports whether hash is new for the website and records it
// as seen, in a single operation. The decision rides on the SADD reply (1 =
// newly added), so two concurrent calls for the same new hash can never both
// observe first-seen.
func (t *RedisTracker) CheckAndMarkSeen(ctx context.Context, hash, websiteID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	added, err := t.client.SAdd(ctx, setKey(websiteID), hash).Result()
	if err != nil {
		return false, fmt.Errorf("sadd %s: %w", setKey(websiteID), err)
	}

	first := added == 1
	t.logger.Debug("Checked visitor signature",
		slog.String("website_id", websiteID),
		slog.Bool("first_seen", first))
	return first, nil
}

// Seen reports membership without recording anything. Diagnostics only; the
// uniqueness decision always comes from CheckAndMarkSeen.
func (t *RedisTracker) Seen(ctx context.Context, hash, websiteID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	member, err := t.client.SIsMember(ctx, setKey(websiteID), hash).Result()
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", setKey(websiteID), err)
	}
	return member, nil
}
