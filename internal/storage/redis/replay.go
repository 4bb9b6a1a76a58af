package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"NLP-Chain/internal/identity"
)

// ReplayGuard 以 SET NX PX 记录已使用的签名请求，多个实例共享同一份记录。
type ReplayGuard struct {
	client redis.UniversalClient
	prefix string
}

func NewReplayGuard(client redis.UniversalClient, prefix string) *ReplayGuard {
	if prefix == "" {
		prefix = "nlpchain:"
	}
	return &ReplayGuard{client: client, prefix: prefix + "replay:"}
}

// Claim 实现 identity.ReplayGuard。
func (g *ReplayGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+key, 1, ttl).Result()
}

var _ identity.ReplayGuard = (*ReplayGuard)(nil)
