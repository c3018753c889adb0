package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Client caches hot read paths in redis. It is an accelerator only: every
// method degrades to a no-op / miss when redis is unconfigured or failing,
// and callers must fall back to the store.
type Client struct {
	cli *redis.Client
	ttl time.Duration
}

// New connects to redis, or returns a disabled client when addr is empty or
// the ping fails.
func New(addr, password string, db int) *Client {
	if addr == "" {
		log.Info("redis disabled: no address configured")
		return &Client{ttl: time.Minute}
	}

	cli := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unavailable, running without cache")
		return &Client{ttl: time.Minute}
	}
	return &Client{cli: cli, ttl: time.Minute}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.cli == nil {
		return nil
	}
	return c.cli.Close()
}

func unreadKey(userID int) string {
	return "unread:" + strconv.Itoa(userID)
}

// GetUnreadCounts returns the cached unread map for a user, reporting a
// miss on absence or any error.
func (c *Client) GetUnreadCounts(ctx context.Context, userID int) (map[int]int, bool) {
	if c == nil || c.cli == nil {
		return nil, false
	}
	raw, err := c.cli.Get(ctx, unreadKey(userID)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.WithError(err).Debug("unread cache read failed")
		return nil, false
	}
	var counts map[int]int
	if err := json.Unmarshal([]byte(raw), &counts); err != nil {
		return nil, false
	}
	return counts, true
}

// SetUnreadCounts stores the unread map with a short TTL yet never fails the
// caller.
func (c *Client) SetUnreadCounts(ctx context.Context, userID int, counts map[int]int) {
	if c == nil || c.cli == nil {
		return
	}
	raw, err := json.Marshal(counts)
	if err != nil {
		return
	}
	if err := c.cli.Set(ctx, unreadKey(userID), raw, c.ttl).Err(); err != nil {
		log.WithError(err).Debug("unread cache write failed")
	}
}

// InvalidateUnread drops the cached unread maps for the given users. Called
// after appends and mark-read; a failure here only means a short staleness
// window until the TTL expires.
func (c *Client) InvalidateUnread(ctx context.Context, userIDs ...int) {
	if c == nil || c.cli == nil || len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, unreadKey(id))
	}
	if err := c.cli.Del(ctx, keys...).Err(); err != nil {
		log.WithError(err).Debug("unread cache invalidation failed")
	}
}
