package ledger

import (
	"context"
	"sync"
)

type memoryLedger struct {
	mu     sync.Mutex
	state  ChainState
	blocks []*Block
}

// MemoryStore 以内存方式保存账本。每个账本持有独立的互斥锁，
// 追加操作在锁内完成。
type MemoryStore struct {
	mu      sync.RWMutex
	ledgers map[string]*memoryLedger
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ledgers: make(map[string]*memoryLedger)}
}

func (m *MemoryStore) ledger(id string) (*memoryLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.ledgers[id]
	if !ok {
		return nil, ErrLedgerNotFound
	}
	return l, nil
}

// Initialize 实现 Store 接口。
func (m *MemoryStore) Initialize(_ context.Context, state *ChainState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ledgers[state.ID]; ok {
		return ErrLedgerExists
	}
	m.ledgers[state.ID] = &memoryLedger{state: *state}
	return nil
}

// State 返回链头副本。
func (m *MemoryStore) State(_ context.Context, ledgerID string) (*ChainState, error) {
	l, err := m.ledger(ledgerID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneState(&l.state), nil
}

// Append 在账本锁内构造并提交新区块。
func (m *MemoryStore) Append(_ context.Context, ledgerID string, build BuildFunc) (*Block, *ChainState, error) {
	l, err := m.ledger(ledgerID)
	if err != nil {
		return nil, nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, err := build(l.state)
	if err != nil {
		return nil, nil, err
	}
	if err := CheckAppend(l.state, b); err != nil {
		return nil, nil, err
	}
	stored := CloneBlock(b)
	l.blocks = append(l.blocks, stored)
	l.state.Advance(stored)
	return CloneBlock(stored), cloneState(&l.state), nil
}

// Block 返回指定区块。
func (m *MemoryStore) Block(_ context.Context, ledgerID string, index uint64) (*Block, error) {
	l, err := m.ledger(ledgerID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if index >= uint64(len(l.blocks)) {
		return nil, ErrBlockNotFound
	}
	return CloneBlock(l.blocks[index]), nil
}

// Blocks 返回从 from 开始的至多 limit 个区块。
func (m *MemoryStore) Blocks(_ context.Context, ledgerID string, from uint64, limit int) ([]*Block, error) {
	l, err := m.ledger(ledgerID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	results := make([]*Block, 0)
	for i := from; i < uint64(len(l.blocks)) && (limit <= 0 || len(results) < limit); i++ {
		results = append(results, CloneBlock(l.blocks[i]))
	}
	return results, nil
}

// MutateBlock 在账本锁内修改区块。
func (m *MemoryStore) MutateBlock(_ context.Context, ledgerID string, index uint64, fn MutateFunc) (*Block, error) {
	l, err := m.ledger(ledgerID)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if index >= uint64(len(l.blocks)) {
		return nil, ErrBlockNotFound
	}
	state := l.state
	b := CloneBlock(l.blocks[index])
	if err := fn(&state, b); err != nil {
		return nil, err
	}
	stored := l.blocks[index]
	stored.Vector = cloneVector(b.Vector)
	stored.DataHash = b.DataHash
	stored.VectorBound = b.VectorBound
	l.state.LastHash = state.LastHash
	return CloneBlock(stored), nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
