package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/ledger"
)

// ErrLockTimeout 表示在等待时间内未能获得锁。
var ErrLockTimeout = xerrors.New(xerrors.CodeConflict, "ledger lock is held by another writer", xerrors.WithRetryable(true))

// Unlock 释放一次加锁。
type Unlock func(ctx context.Context) error

// Locker 提供带过期时间的互斥锁。
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker 使用 SET NX PX 加锁，释放时校验持有者令牌。
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker 创建锁。wait 为获取锁的最长等待时间。
func NewRedisLocker(client redis.UniversalClient, prefix string, wait time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = "nlpchain:lock:"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisLocker{client: client, prefix: prefix, wait: wait, retry: 20 * time.Millisecond}
}

// Lock 实现 Locker。
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	full := l.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "acquire ledger lock")
		}
		if ok {
			return func(ctx context.Context) error {
				return releaseScript.Run(ctx, l.client, []string{full}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

// LockedStore 在 Append 与 MutateBlock 外层持有账本级锁，
// 用于不具备行锁的后端被多个进程共享时。
type LockedStore struct {
	ledger.Store
	locker Locker
	ttl    time.Duration
}

// NewLockedStore 包装 inner。ttl 为锁的最长持有时间。
func NewLockedStore(inner ledger.Store, locker Locker, ttl time.Duration) *LockedStore {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &LockedStore{Store: inner, locker: locker, ttl: ttl}
}

func (s *LockedStore) withLock(ctx context.Context, ledgerID string, fn func() error) (err error) {
	unlock, err := s.locker.Lock(ctx, "ledger:"+ledgerID, s.ttl)
	if err != nil {
		return err
	}
	defer func() {
		// 锁已过期时释放失败不影响已提交的写入。
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil && !errors.Is(uerr, redis.Nil) && err == nil {
			err = xerrors.Wrap(xerrors.CodeStorageFailure, uerr, "release ledger lock")
		}
	}()
	return fn()
}

// Append 实现 ledger.Store。
func (s *LockedStore) Append(ctx context.Context, ledgerID string, build ledger.BuildFunc) (*ledger.Block, *ledger.ChainState, error) {
	var (
		block *ledger.Block
		state *ledger.ChainState
	)
	err := s.withLock(ctx, ledgerID, func() error {
		var err error
		block, state, err = s.Store.Append(ctx, ledgerID, build)
		return err
	})
	return block, state, err
}

// MutateBlock 实现 ledger.Store。
func (s *LockedStore) MutateBlock(ctx context.Context, ledgerID string, index uint64, fn ledger.MutateFunc) (*ledger.Block, error) {
	var block *ledger.Block
	err := s.withLock(ctx, ledgerID, func() error {
		var err error
		block, err = s.Store.MutateBlock(ctx, ledgerID, index, fn)
		return err
	})
	return block, err
}

var _ ledger.Store = (*LockedStore)(nil)
