package proof

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store 抽象了证明的持久化。Create 在键冲突时必须返回 ErrProofExists，
// 不得覆盖已有记录。
type Store interface {
	Create(ctx context.Context, p *Proof) error
	Get(ctx context.Context, key Key) (*Proof, error)
	ListByOwner(ctx context.Context, owner common.Address, limit int) ([]*Proof, error)
	Close() error
}
