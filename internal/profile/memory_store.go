package profile

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
)

// MemoryStore 以内存方式保存资料。
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[common.Address]*Profile
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[common.Address]*Profile)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, p *Profile) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "profile is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.Owner]; ok {
		return ErrProfileExists
	}
	m.profiles[p.Owner] = cloneProfile(p)
	return nil
}

// Get 实现 Store 接口。
func (m *MemoryStore) Get(_ context.Context, owner common.Address) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[owner]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return cloneProfile(p), nil
}

// Update 实现 Store 接口。
func (m *MemoryStore) Update(_ context.Context, p *Profile) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "profile is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[p.Owner]; !ok {
		return ErrProfileNotFound
	}
	m.profiles[p.Owner] = cloneProfile(p)
	return nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
