// Package ledgertest 提供各账本存储实现共用的行为测试。
package ledgertest

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NLP-Chain/internal/hashchain"
	"NLP-Chain/internal/ledger"
)

// Authority 是测试中使用的账本权限方。
var Authority = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

// RunStoreSuite 对 newStore 返回的存储执行通用测试。每个子测试使用新的存储实例。
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Run("InitializeRejectsDuplicate", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		state := genesis("dup")
		require.NoError(t, store.Initialize(ctx, state))
		err := store.Initialize(ctx, genesis("dup"))
		assert.True(t, stdErrors.Is(err, ledger.ErrLedgerExists), "got %v", err)

		_, err = store.State(ctx, "missing")
		assert.True(t, stdErrors.Is(err, ledger.ErrLedgerNotFound), "got %v", err)
	})

	t.Run("AppendLinksBlocks", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Initialize(ctx, genesis("links")))

		b0, state, err := store.Append(ctx, "links", build("a"))
		require.NoError(t, err)
		assert.Equal(t, uint64(0), b0.Index)
		assert.Equal(t, hashchain.GenesisHash, b0.PreviousHash)
		assert.Equal(t, uint64(1), state.BlockCount)
		assert.Equal(t, hashchain.Sum([]byte("a")), state.LastHash)

		b1, state, err := store.Append(ctx, "links", build("b"))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), b1.Index)
		assert.Equal(t, hashchain.Sum([]byte("a")), b1.PreviousHash)
		assert.Equal(t, uint64(2), state.BlockCount)

		got, err := store.Block(ctx, "links", 1)
		require.NoError(t, err)
		assert.Equal(t, "b", got.Text)
		assert.Equal(t, []float64{1, 2}, got.Vector)

		page, err := store.Blocks(ctx, "links", 1, 10)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, uint64(1), page[0].Index)

		_, err = store.Block(ctx, "links", 5)
		assert.True(t, stdErrors.Is(err, ledger.ErrBlockNotFound), "got %v", err)
	})

	t.Run("AppendAbortsOnBuildError", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Initialize(ctx, genesis("abort")))

		boom := stdErrors.New("boom")
		_, _, err := store.Append(ctx, "abort", func(ledger.ChainState) (*ledger.Block, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		state, err := store.State(ctx, "abort")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), state.BlockCount)
		assert.Equal(t, hashchain.GenesisHash, state.LastHash)
	})

	t.Run("ConcurrentAppendsNeverShareIndex", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Initialize(ctx, genesis("race")))

		const writers = 16
		var wg sync.WaitGroup
		indexes := make(chan uint64, writers)
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				b, _, err := store.Append(ctx, "race", build("concurrent"))
				if err != nil {
					errs <- err
					return
				}
				indexes <- b.Index
			}()
		}
		wg.Wait()
		close(indexes)
		close(errs)
		for err := range errs {
			t.Fatalf("append failed: %v", err)
		}

		seen := make(map[uint64]bool)
		for idx := range indexes {
			assert.False(t, seen[idx], "index %d committed twice", idx)
			seen[idx] = true
		}
		state, err := store.State(ctx, "race")
		require.NoError(t, err)
		assert.Equal(t, uint64(writers), state.BlockCount)

		blocks, err := store.Blocks(ctx, "race", 0, writers)
		require.NoError(t, err)
		prev := hashchain.GenesisHash
		for i, b := range blocks {
			assert.Equal(t, uint64(i), b.Index)
			assert.Equal(t, prev, b.PreviousHash)
			prev = b.DataHash
		}
	})

	t.Run("MutateBlockPersistsVectorAndHead", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Initialize(ctx, genesis("mutate")))
		_, _, err := store.Append(ctx, "mutate", build("a"))
		require.NoError(t, err)

		newHash := hashchain.Sum([]byte("bound"))
		updated, err := store.MutateBlock(ctx, "mutate", 0, func(state *ledger.ChainState, b *ledger.Block) error {
			b.Vector = []float64{9}
			b.DataHash = newHash
			b.VectorBound = true
			state.LastHash = newHash
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []float64{9}, updated.Vector)

		stored, err := store.Block(ctx, "mutate", 0)
		require.NoError(t, err)
		assert.Equal(t, []float64{9}, stored.Vector)
		assert.Equal(t, newHash, stored.DataHash)
		assert.True(t, stored.VectorBound)
		assert.Equal(t, "a", stored.Text)

		state, err := store.State(ctx, "mutate")
		require.NoError(t, err)
		assert.Equal(t, newHash, state.LastHash)
		assert.Equal(t, uint64(1), state.BlockCount)

		denied := stdErrors.New("denied")
		_, err = store.MutateBlock(ctx, "mutate", 0, func(*ledger.ChainState, *ledger.Block) error { return denied })
		assert.ErrorIs(t, err, denied)

		_, err = store.MutateBlock(ctx, "mutate", 3, func(*ledger.ChainState, *ledger.Block) error { return nil })
		assert.True(t, stdErrors.Is(err, ledger.ErrBlockNotFound), "got %v", err)
	})
}

func genesis(id string) *ledger.ChainState {
	return &ledger.ChainState{ID: id, Authority: Authority, LastHash: hashchain.GenesisHash, CreatedAt: 1}
}

func build(text string) ledger.BuildFunc {
	return func(state ledger.ChainState) (*ledger.Block, error) {
		return ledger.NewBlock(state, Authority, ledger.Content{Text: text, Vector: []float64{1, 2}, Metadata: "m"}, 1), nil
	}
}
