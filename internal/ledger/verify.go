package ledger

import (
	"context"
	"fmt"

	"NLP-Chain/internal/hashchain"
)

// IntegrityReport 描述一次完整性遍历的结果。
type IntegrityReport struct {
	LedgerID      string         `json:"ledger_id"`
	Height        uint64         `json:"height"`
	CheckedBlocks uint64         `json:"checked_blocks"`
	Valid         bool           `json:"valid"`
	FirstInvalid  *uint64        `json:"first_invalid,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Head          hashchain.Hash `json:"head"`
}

func (r *IntegrityReport) fail(index uint64, reason string) {
	r.Valid = false
	r.FirstInvalid = &index
	r.Reason = reason
}

// Verify 从创世开始遍历账本，检查索引连续、previous_hash 链接、
// data_hash 与内容一致，以及链头与最后一个区块一致。
// 只读取数据；返回的错误仅表示存储故障，链本身的问题记录在报告中。
func (s *Service) Verify(ctx context.Context, ledgerID string) (*IntegrityReport, error) {
	state, err := s.store.State(ctx, ledgerID)
	if err != nil {
		return nil, err
	}
	report := &IntegrityReport{LedgerID: ledgerID, Height: state.BlockCount, Valid: true, Head: state.LastHash}

	expectedPrev := hashchain.GenesisHash
	var next uint64
	for next < state.BlockCount {
		page, err := s.store.Blocks(ctx, ledgerID, next, defaultPageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			report.fail(next, "block missing")
			return report, nil
		}
		for _, b := range page {
			if next >= state.BlockCount {
				break
			}
			switch {
			case b.Index != next:
				report.fail(next, fmt.Sprintf("expected index %d, found %d", next, b.Index))
			case b.PreviousHash != expectedPrev:
				report.fail(b.Index, "previous_hash does not match predecessor data_hash")
			case b.DataHash != b.ExpectedDataHash():
				report.fail(b.Index, "data_hash does not match block content")
			}
			if !report.Valid {
				return report, nil
			}
			report.CheckedBlocks++
			expectedPrev = b.DataHash
			next++
		}
	}
	if state.LastHash != expectedPrev {
		last := uint64(0)
		if state.BlockCount > 0 {
			last = state.BlockCount - 1
		}
		report.fail(last, "chain head does not match last block")
	}
	return report, nil
}

// MerkleRoot 计算 [from, to) 区间内区块 data_hash 的 Merkle 根。to 为 0
// 或超出高度时取账本高度。
func (s *Service) MerkleRoot(ctx context.Context, ledgerID string, from, to uint64) (hashchain.Hash, uint64, error) {
	state, err := s.store.State(ctx, ledgerID)
	if err != nil {
		return hashchain.Hash{}, 0, err
	}
	if to == 0 || to > state.BlockCount {
		to = state.BlockCount
	}
	if from >= to {
		return hashchain.Hash{}, 0, nil
	}
	leaves := make([]hashchain.Hash, 0, to-from)
	for next := from; next < to; {
		limit := defaultPageSize
		if remaining := to - next; remaining < uint64(limit) {
			limit = int(remaining)
		}
		page, err := s.store.Blocks(ctx, ledgerID, next, limit)
		if err != nil {
			return hashchain.Hash{}, 0, err
		}
		if len(page) == 0 {
			break
		}
		for _, b := range page {
			leaves = append(leaves, b.DataHash)
		}
		next += uint64(len(page))
	}
	return hashchain.MerkleRoot(leaves), uint64(len(leaves)), nil
}
