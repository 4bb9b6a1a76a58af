package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/ledger"
	"NLP-Chain/internal/observability/metrics"
	"NLP-Chain/pkg/logger"
)

// maxConflictRetries 限制单次写入因乐观事务冲突而重试的次数。
const maxConflictRetries = 128

// LedgerStore 以 JSON 保存链头与区块：
//
//	ledger\x00<id>\x00state          -> ChainState
//	ledger\x00<id>\x00block\x00<be64> -> Block
type LedgerStore struct {
	db *badger.DB
}

// NewLedgerStore 创建存储，db 的生命周期由 Close 接管。
func NewLedgerStore(db *badger.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func stateKey(id string) []byte {
	return []byte("ledger\x00" + id + "\x00state")
}

func blockPrefix(id string) []byte {
	return []byte("ledger\x00" + id + "\x00block\x00")
}

func blockKey(id string, index uint64) []byte {
	return binary.BigEndian.AppendUint64(blockPrefix(id), index)
}

// Initialize 实现 ledger.Store。
func (s *LedgerStore) Initialize(ctx context.Context, state *ledger.ChainState) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(stateKey(state.ID)); err == nil {
			return ledger.ErrLedgerExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return storageError(err, "读取账本失败")
		}
		return putJSON(txn, stateKey(state.ID), state)
	})
}

// State 实现 ledger.Store。
func (s *LedgerStore) State(_ context.Context, ledgerID string) (*ledger.ChainState, error) {
	var state *ledger.ChainState
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		state, err = readState(txn, ledgerID)
		return err
	})
	return state, err
}

// Append 实现 ledger.Store。冲突时会以新的链头再次调用 build。
func (s *LedgerStore) Append(ctx context.Context, ledgerID string, build ledger.BuildFunc) (*ledger.Block, *ledger.ChainState, error) {
	var (
		block *ledger.Block
		state *ledger.ChainState
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		head, err := readState(txn, ledgerID)
		if err != nil {
			return err
		}
		b, err := build(*head)
		if err != nil {
			return err
		}
		if err := ledger.CheckAppend(*head, b); err != nil {
			return err
		}
		if err := putJSON(txn, blockKey(ledgerID, b.Index), b); err != nil {
			return err
		}
		head.Advance(b)
		if err := putJSON(txn, stateKey(ledgerID), head); err != nil {
			return err
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
func (s *LedgerStore) Block(_ context.Context, ledgerID string, index uint64) (*ledger.Block, error) {
	var b *ledger.Block
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		b, err = readBlock(txn, ledgerID, index)
		return err
	})
	return b, err
}

// Blocks 实现 ledger.Store。
func (s *LedgerStore) Blocks(_ context.Context, ledgerID string, from uint64, limit int) ([]*ledger.Block, error) {
	results := make([]*ledger.Block, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := readState(txn, ledgerID); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = blockPrefix(ledgerID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(blockKey(ledgerID, from)); it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(results) >= limit {
				break
			}
			var b ledger.Block
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &b)
			}); err != nil {
				return storageError(err, "解析区块失败")
			}
			results = append(results, &b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// MutateBlock 实现 ledger.Store。
func (s *LedgerStore) MutateBlock(ctx context.Context, ledgerID string, index uint64, fn ledger.MutateFunc) (*ledger.Block, error) {
	var updated *ledger.Block
	err := s.update(ctx, func(txn *badger.Txn) error {
		state, err := readState(txn, ledgerID)
		if err != nil {
			return err
		}
		stored, err := readBlock(txn, ledgerID, index)
		if err != nil {
			return err
		}
		b := ledger.CloneBlock(stored)
		lastHash := state.LastHash
		if err := fn(state, b); err != nil {
			return err
		}
		stored.Vector = b.Vector
		stored.DataHash = b.DataHash
		stored.VectorBound = b.VectorBound
		if err := putJSON(txn, blockKey(ledgerID, index), stored); err != nil {
			return err
		}
		if state.LastHash != lastHash {
			head, err := readState(txn, ledgerID)
			if err != nil {
				return err
			}
			head.LastHash = state.LastHash
			if err := putJSON(txn, stateKey(ledgerID), head); err != nil {
				return err
			}
		}
		updated = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ledger.CloneBlock(updated), nil
}

// Close 关闭底层数据库。
func (s *LedgerStore) Close() error {
	return s.db.Close()
}

// update 执行读写事务，提交冲突时重试。
func (s *LedgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		metrics.ObserveAppendConflict("badger")
		if attempt+1 >= maxConflictRetries {
			logger.L().Warn("badger 事务冲突重试次数耗尽")
			return ledger.ErrHeadMoved
		}
	}
}

func readState(txn *badger.Txn, ledgerID string) (*ledger.ChainState, error) {
	var state ledger.ChainState
	if err := getJSON(txn, stateKey(ledgerID), &state); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ledger.ErrLedgerNotFound
		}
		return nil, storageError(err, "读取账本失败")
	}
	return &state, nil
}

func readBlock(txn *badger.Txn, ledgerID string, index uint64) (*ledger.Block, error) {
	var b ledger.Block
	if err := getJSON(txn, blockKey(ledgerID, index), &b); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ledger.ErrBlockNotFound
		}
		return nil, storageError(err, "读取区块失败")
	}
	return &b, nil
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return storageError(err, "序列化失败")
	}
	if err := txn.Set(key, data); err != nil {
		return storageError(err, "写入失败")
	}
	return nil
}

func storageError(err error, msg string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, msg)
}

var _ ledger.Store = (*LedgerStore)(nil)
