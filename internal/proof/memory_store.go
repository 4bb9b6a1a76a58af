package proof

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
)

// MemoryStore 以内存方式保存证明，主要用于测试与单机部署。
type MemoryStore struct {
	mu     sync.RWMutex
	proofs map[Key]*Proof
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{proofs: make(map[Key]*Proof)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, p *Proof) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "proof is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := p.Key()
	if _, ok := m.proofs[key]; ok {
		return ErrProofExists
	}
	m.proofs[key] = cloneProof(p)
	return nil
}

// Get 返回指定键的证明。
func (m *MemoryStore) Get(_ context.Context, key Key) (*Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proofs[key]
	if !ok {
		return nil, ErrProofNotFound
	}
	return cloneProof(p), nil
}

// ListByOwner 按时间倒序返回所有者的证明。
func (m *MemoryStore) ListByOwner(_ context.Context, owner common.Address, limit int) ([]*Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Proof, 0)
	for key, p := range m.proofs {
		if key.Owner == owner {
			results = append(results, cloneProof(p))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp > results[j].Timestamp
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
