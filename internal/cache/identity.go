// Package cache keeps user identities in Redis in front of the user table.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vedran77/mailbox/internal/domain"
	"github.com/vedran77/mailbox/internal/logger"
	"github.com/vedran77/mailbox/internal/repository"
	"go.uber.org/zap"
)

const keyPrefix = "mailbox:identity:"

// IdentityCache is a read-through cache over a UserRepository. Cache
// failures fall back to the repository.
type IdentityCache struct {
	cli    *redis.Client
	users  repository.UserRepository
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewRedis opens a client for a redis:// URL and checks it answers.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	cli := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := cli.Ping(pctx).Err(); err != nil {
		cli.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return cli, nil
}

func NewIdentityCache(cli *redis.Client, users repository.UserRepository, ttl time.Duration, log *zap.SugaredLogger) *IdentityCache {
	return &IdentityCache{cli: cli, users: users, ttl: ttl, logger: logger.OrNop(log)}
}

// GetByID returns the cached identity or loads and caches it. Unknown
// users yield nil, nil and are not cached.
func (c *IdentityCache) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	key := keyPrefix + id.String()

	raw, err := c.cli.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var u domain.User
		if err := json.Unmarshal(raw, &u); err == nil {
			return &u, nil
		}
		c.logger.Warnw("discarding undecodable cached identity", "user_id", id)
	case !errors.Is(err, redis.Nil):
		c.logger.Warnw("identity cache read failed", "user_id", id, "error", err)
	}

	u, err := c.users.GetByID(ctx, id)
	if err != nil || u == nil {
		return u, err
	}

	if data, err := json.Marshal(u); err == nil {
		if err := c.cli.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warnw("identity cache write failed", "user_id", id, "error", err)
		}
	}
	return u, nil
}

// Invalidate drops a cached identity, e.g. after a profile change.
func (c *IdentityCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	return c.cli.Del(ctx, keyPrefix+id.String()).Err()
}
