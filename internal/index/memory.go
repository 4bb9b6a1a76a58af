package index

import (
	"context"
	"sort"
	"sync"
)

type entryKey struct {
	ledgerID string
	index    uint64
}

// MemoryIndex 在内存中逐条比较余弦相似度。
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[entryKey]Entry
}

// NewMemoryIndex 创建 MemoryIndex。
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[entryKey]Entry)}
}

// Upsert 实现 VectorIndex 接口。
func (m *MemoryIndex) Upsert(_ context.Context, e Entry) error {
	e.Vector = append([]float64(nil), e.Vector...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entryKey{e.LedgerID, e.Index}] = e
	return nil
}

// Search 实现 VectorIndex 接口。
func (m *MemoryIndex) Search(_ context.Context, q Query) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	matches := make([]Match, 0)
	for key, e := range m.entries {
		if q.LedgerID != "" && key.ledgerID != q.LedgerID {
			continue
		}
		sim := Cosine(q.Vector, e.Vector)
		if sim < q.Threshold {
			continue
		}
		matches = append(matches, Match{
			LedgerID:   e.LedgerID,
			Index:      e.Index,
			Text:       e.Text,
			Metadata:   e.Metadata,
			Timestamp:  e.Timestamp,
			Similarity: sim,
		})
	}
	sortMatches(matches)
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

// Len 返回索引条目数。
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close 对内存索引无需操作。
func (m *MemoryIndex) Close() error { return nil }

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		if matches[i].LedgerID != matches[j].LedgerID {
			return matches[i].LedgerID < matches[j].LedgerID
		}
		return matches[i].Index < matches[j].Index
	})
}

var _ VectorIndex = (*MemoryIndex)(nil)
