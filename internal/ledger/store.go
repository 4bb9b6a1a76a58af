package ledger

import "context"

// BuildFunc 根据追加前的链头构造新区块。返回错误时事务中止。
type BuildFunc func(state ChainState) (*Block, error)

// MutateFunc 在事务内修改区块。state 与 block 均为副本；实现只持久化
// block 的 Vector、DataHash、VectorBound 以及 state 的 LastHash。
type MutateFunc func(state *ChainState, block *Block) error

// Store 抽象了账本的持久化。
//
// Append 必须把“读取链头、写入区块、推进链头”作为不可分割的一步执行：
// 同一账本上的并发追加不得观察到相同的 (block_count, last_hash) 并同时提交。
type Store interface {
	Initialize(ctx context.Context, state *ChainState) error
	State(ctx context.Context, ledgerID string) (*ChainState, error)
	Append(ctx context.Context, ledgerID string, build BuildFunc) (*Block, *ChainState, error)
	Block(ctx context.Context, ledgerID string, index uint64) (*Block, error)
	Blocks(ctx context.Context, ledgerID string, from uint64, limit int) ([]*Block, error)
	MutateBlock(ctx context.Context, ledgerID string, index uint64, fn MutateFunc) (*Block, error)
	Close() error
}

// CheckAppend 校验 BuildFunc 的产物是否与链头一致，供各存储实现复用。
func CheckAppend(state ChainState, b *Block) error {
	if b == nil {
		return ErrHeadMoved
	}
	if b.Index != state.BlockCount || b.PreviousHash != state.LastHash || b.LedgerID != state.ID {
		return ErrHeadMoved
	}
	return nil
}
