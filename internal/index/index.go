// Package index 维护区块向量的相似度索引，并提供语义检索。
package index

import (
	"context"
	"math"
)

// Entry 是写入索引的一条区块向量。
type Entry struct {
	LedgerID  string    `json:"ledger_id"`
	Index     uint64    `json:"index"`
	Text      string    `json:"text"`
	Metadata  string    `json:"metadata,omitempty"`
	Timestamp int64     `json:"timestamp"`
	Vector    []float64 `json:"vector"`
}

// Match 是一条检索结果。
type Match struct {
	LedgerID   string  `json:"ledger_id"`
	Index      uint64  `json:"index"`
	Text       string  `json:"text"`
	Metadata   string  `json:"metadata,omitempty"`
	Timestamp  int64   `json:"timestamp"`
	Similarity float64 `json:"similarity"`
}

// Query 描述一次相似度检索。LedgerID 为空时检索所有账本。
type Query struct {
	Vector    []float64
	LedgerID  string
	Threshold float64
	Limit     int
}

// VectorIndex 抽象了向量索引。同一 (LedgerID, Index) 的重复写入覆盖旧值。
// Search 返回相似度不低于阈值的结果，按相似度降序排列。
type VectorIndex interface {
	Upsert(ctx context.Context, e Entry) error
	Search(ctx context.Context, q Query) ([]Match, error)
	Close() error
}

// Cosine 计算余弦相似度。长度不同或任一向量为零时返回 0。
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
