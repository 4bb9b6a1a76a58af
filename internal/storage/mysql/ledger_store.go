package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/hashchain"
	"NLP-Chain/internal/ledger"
)

const (
	insertStateSQL    = `INSERT INTO chain_states (id, authority, block_count, last_hash, created_at) VALUES (?, ?, ?, ?, ?)`
	selectStateSQL    = `SELECT id, authority, block_count, last_hash, created_at FROM chain_states WHERE id = ?`
	lockStateSQL      = selectStateSQL + ` FOR UPDATE`
	advanceStateSQL   = `UPDATE chain_states SET block_count = ?, last_hash = ? WHERE id = ?`
	updateHeadHashSQL = `UPDATE chain_states SET last_hash = ? WHERE id = ?`
	insertBlockSQL    = `INSERT INTO blocks
    (ledger_id, block_index, authority, ts, text, vector, metadata, data_hash, previous_hash, vector_bound)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	blockColumns   = `ledger_id, block_index, authority, ts, text, vector, metadata, data_hash, previous_hash, vector_bound`
	selectBlockSQL = `SELECT ` + blockColumns + ` FROM blocks WHERE ledger_id = ? AND block_index = ?`
	lockBlockSQL   = selectBlockSQL + ` FOR UPDATE`
	listBlocksSQL  = `SELECT ` + blockColumns + ` FROM blocks WHERE ledger_id = ? AND block_index >= ? ORDER BY block_index ASC LIMIT ?`
	updateBlockSQL = `UPDATE blocks SET vector = ?, data_hash = ?, vector_bound = ? WHERE ledger_id = ? AND block_index = ?`
)

// LedgerStore 使用 InnoDB 行锁串行化同一账本的追加：
// 事务内先 SELECT ... FOR UPDATE 锁定 chain_states 行，再写入区块并推进链头。
type LedgerStore struct {
	db *sql.DB
}

// NewLedgerStore 使用已迁移的连接创建存储。
func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Initialize 实现 ledger.Store。
func (s *LedgerStore) Initialize(ctx context.Context, state *ledger.ChainState) error {
	_, err := s.db.ExecContext(ctx, insertStateSQL,
		state.ID, state.Authority.Hex(), state.BlockCount, state.LastHash.String(), state.CreatedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return ledger.ErrLedgerExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入账本失败")
	}
	return nil
}

// State 实现 ledger.Store。
func (s *LedgerStore) State(ctx context.Context, ledgerID string) (*ledger.ChainState, error) {
	state, err := scanState(s.db.QueryRowContext(ctx, selectStateSQL, ledgerID))
	if err != nil {
		return nil, stateError(err)
	}
	return state, nil
}

// Append 实现 ledger.Store。
func (s *LedgerStore) Append(ctx context.Context, ledgerID string, build ledger.BuildFunc) (*ledger.Block, *ledger.ChainState, error) {
	var (
		block *ledger.Block
		state *ledger.ChainState
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		head, err := scanState(tx.QueryRowContext(ctx, lockStateSQL, ledgerID))
		if err != nil {
			return stateError(err)
		}
		b, err := build(*head)
		if err != nil {
			return err
		}
		if err := ledger.CheckAppend(*head, b); err != nil {
			return err
		}
		vector, err := encodeVector(b.Vector)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insertBlockSQL,
			b.LedgerID, b.Index, b.Authority.Hex(), b.Timestamp, b.Text, vector, b.Metadata,
			b.DataHash.String(), b.PreviousHash.String(), boolToInt(b.VectorBound)); err != nil {
			if isDuplicateEntry(err) {
				return ledger.ErrHeadMoved
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入区块失败")
		}
		head.Advance(b)
		if _, err := tx.ExecContext(ctx, advanceStateSQL, head.BlockCount, head.LastHash.String(), head.ID); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "推进链头失败")
		}
		block, state = b, head
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return ledger.CloneBlock(block), state, nil
}

// Block 实现 ledger.Store。
func (s *LedgerStore) Block(ctx context.Context, ledgerID string, index uint64) (*ledger.Block, error) {
	b, err := scanBlock(s.db.QueryRowContext(ctx, selectBlockSQL, ledgerID, index))
	if err != nil {
		return nil, blockError(err)
	}
	return b, nil
}

// Blocks 实现 ledger.Store。
func (s *LedgerStore) Blocks(ctx context.Context, ledgerID string, from uint64, limit int) ([]*ledger.Block, error) {
	rows, err := s.db.QueryContext(ctx, listBlocksSQL, ledgerID, from, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询区块列表失败")
	}
	defer rows.Close()

	results := make([]*ledger.Block, 0)
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析区块失败")
		}
		results = append(results, b)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历区块失败")
	}
	return results, nil
}

// MutateBlock 实现 ledger.Store。链头行与区块行在同一事务内加锁。
func (s *LedgerStore) MutateBlock(ctx context.Context, ledgerID string, index uint64, fn ledger.MutateFunc) (*ledger.Block, error) {
	var updated *ledger.Block
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		state, err := scanState(tx.QueryRowContext(ctx, lockStateSQL, ledgerID))
		if err != nil {
			return stateError(err)
		}
		b, err := scanBlock(tx.QueryRowContext(ctx, lockBlockSQL, ledgerID, index))
		if err != nil {
			return blockError(err)
		}
		lastHash := state.LastHash
		if err := fn(state, b); err != nil {
			return err
		}
		vector, err := encodeVector(b.Vector)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, updateBlockSQL,
			vector, b.DataHash.String(), boolToInt(b.VectorBound), ledgerID, index); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新区块失败")
		}
		if state.LastHash != lastHash {
			if _, err := tx.ExecContext(ctx, updateHeadHashSQL, state.LastHash.String(), ledgerID); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新链头失败")
			}
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Close 不关闭共享连接。
func (s *LedgerStore) Close() error { return nil }

func (s *LedgerStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

func scanState(row rowScanner) (*ledger.ChainState, error) {
	var (
		state               ledger.ChainState
		authority, lastHash string
	)
	if err := row.Scan(&state.ID, &authority, &state.BlockCount, &lastHash, &state.CreatedAt); err != nil {
		return nil, err
	}
	h, err := hashchain.ParseHash(lastHash)
	if err != nil {
		return nil, err
	}
	state.Authority = common.HexToAddress(authority)
	state.LastHash = h
	return &state, nil
}

func scanBlock(row rowScanner) (*ledger.Block, error) {
	var (
		b                                      ledger.Block
		authority, vector, dataHash, prevHash string
	)
	if err := row.Scan(&b.LedgerID, &b.Index, &authority, &b.Timestamp, &b.Text, &vector, &b.Metadata,
		&dataHash, &prevHash, &b.VectorBound); err != nil {
		return nil, err
	}
	var err error
	if b.DataHash, err = hashchain.ParseHash(dataHash); err != nil {
		return nil, err
	}
	if b.PreviousHash, err = hashchain.ParseHash(prevHash); err != nil {
		return nil, err
	}
	if b.Vector, err = decodeVector(vector); err != nil {
		return nil, err
	}
	b.Authority = common.HexToAddress(authority)
	return &b, nil
}

func stateError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrLedgerNotFound
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询账本失败")
}

func blockError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.ErrBlockNotFound
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询区块失败")
}

func encodeVector(v []float64) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化向量失败")
	}
	return string(data), nil
}

func decodeVector(raw string) ([]float64, error) {
	if raw == "" || raw == "[]" || raw == "null" {
		return nil, nil
	}
	var v []float64
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("解析向量失败: %w", err)
	}
	return v, nil
}

var _ ledger.Store = (*LedgerStore)(nil)
