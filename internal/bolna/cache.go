package bolna

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const agentsCacheKey = "bolna:agents"

// AgentLister lists configured voice agents.
type AgentLister interface {
	ListAgents(ctx context.Context) ([]Agent, error)
}

// CachedAgentLister wraps an AgentLister with a short-lived Redis cache.
// The dashboard polls the agent list often and it changes rarely; cache
// failures degrade to a direct provider call.
type CachedAgentLister struct {
	inner AgentLister
	rdb   *redis.Client
	ttl   time.Duration
	log   *slog.Logger
}

func NewCachedAgentLister(inner AgentLister, rdb *redis.Client, ttl time.Duration, log *slog.Logger) *CachedAgentLister {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedAgentLister{inner: inner, rdb: rdb, ttl: ttl, log: log}
}

func (c *CachedAgentLister) ListAgents(ctx context.Context) ([]Agent, error) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, agentsCacheKey).Bytes()
		if err == nil {
			var agents []Agent
			if json.Unmarshal(raw, &agents) == nil {
				return agents, nil
			}
		} else if err != redis.Nil {
			c.log.Warn("agent cache read failed", "err", err)
		}
	}

	agents, err := c.inner.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	if c.rdb != nil {
		if raw, err := json.Marshal(agents); err == nil {
			if err := c.rdb.Set(ctx, agentsCacheKey, raw, c.ttl).Err(); err != nil {
				c.log.Warn("agent cache write failed", "err", err)
			}
		}
	}
	return agents, nil
}
