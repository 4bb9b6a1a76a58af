package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"NLP-Chain/internal/ledger"
	"NLP-Chain/internal/observability/metrics"
	"NLP-Chain/pkg/logger"
)

// DefaultBlockTTL 是区块缓存的默认有效期。
const DefaultBlockTTL = 10 * time.Minute

// generationStripes 是代数计数的分片数，不同键落在同一分片只会让回填多跳过一次。
const generationStripes = 256

// CachedStore 为 Block 提供读穿缓存。区块除向量外不可变，
// 因此只在 MutateBlock 之后刷新对应的键。
//
// 回填与刷新通过 fillMu 串行：读者在回源前记下键所在分片的代数，
// 写回缓存时代数已变则放弃，MutateBlock 提交后先递增代数再写入新区块。
// 该保证只覆盖同一进程内的读写。
type CachedStore struct {
	ledger.Store
	cache Cache
	ttl   time.Duration
	group singleflight.Group
	log   *slog.Logger

	fillMu      sync.Mutex
	generations [generationStripes]uint64
}

// NewCachedStore 包装 inner。ttl <= 0 时使用 DefaultBlockTTL。
func NewCachedStore(inner ledger.Store, cache Cache, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultBlockTTL
	}
	return &CachedStore{Store: inner, cache: cache, ttl: ttl, log: logger.Named("block-cache")}
}

func blockCacheKey(ledgerID string, index uint64) string {
	return fmt.Sprintf("block:%s:%d", ledgerID, index)
}

// Block 先查缓存，未命中时合并并发回源。
func (s *CachedStore) Block(ctx context.Context, ledgerID string, index uint64) (*ledger.Block, error) {
	key := blockCacheKey(ledgerID, index)
	data, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		var b ledger.Block
		if jsonErr := json.Unmarshal(data, &b); jsonErr == nil {
			metrics.ObserveCacheLookup("hit")
			return &b, nil
		}
		metrics.ObserveCacheLookup("error")
	case errors.Is(err, ErrCacheMiss):
		metrics.ObserveCacheLookup("miss")
	default:
		metrics.ObserveCacheLookup("error")
		s.log.Warn("读取区块缓存失败", slog.String("key", key), slog.Any("error", err))
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		gen := s.generation(key)
		b, err := s.Store.Block(ctx, ledgerID, index)
		if err != nil {
			return nil, err
		}
		s.fill(ctx, key, b, gen)
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return ledger.CloneBlock(v.(*ledger.Block)), nil
}

// MutateBlock 修改成功后用新区块覆盖缓存，并使修改前开始的回填失效。
func (s *CachedStore) MutateBlock(ctx context.Context, ledgerID string, index uint64, fn ledger.MutateFunc) (*ledger.Block, error) {
	b, err := s.Store.MutateBlock(ctx, ledgerID, index, fn)
	if err != nil {
		return nil, err
	}
	key := blockCacheKey(ledgerID, index)

	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	s.generations[stripe(key)]++
	payload, err := json.Marshal(b)
	if err == nil {
		err = s.cache.Set(ctx, key, payload, s.ttl)
	}
	if err != nil {
		s.log.Warn("刷新区块缓存失败，改为删除", slog.String("key", key), slog.Any("error", err))
		if err := s.cache.Del(ctx, key); err != nil {
			s.log.Error("删除区块缓存失败",
				slog.String("ledger_id", ledgerID),
				slog.Uint64("index", index),
				slog.Any("error", err),
			)
		}
	}
	return b, nil
}

func (s *CachedStore) generation(key string) uint64 {
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	return s.generations[stripe(key)]
}

// fill 仅在回源期间没有发生修改时写回缓存。
func (s *CachedStore) fill(ctx context.Context, key string, b *ledger.Block, gen uint64) {
	payload, err := json.Marshal(b)
	if err != nil {
		return
	}
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	if s.generations[stripe(key)] != gen {
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.ttl); err != nil {
		s.log.Warn("写入区块缓存失败", slog.String("key", key), slog.Any("error", err))
	}
}

func stripe(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % generationStripes)
}

var _ ledger.Store = (*CachedStore)(nil)
