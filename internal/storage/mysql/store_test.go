package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/ethereum/go-ethereum/common"
	mysqldriver "github.com/go-sql-driver/mysql"

	"NLP-Chain/internal/hashchain"
	"NLP-Chain/internal/ledger"
	"NLP-Chain/internal/profile"
	"NLP-Chain/internal/proof"
)

var (
	testOwner     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	duplicateErr  = &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}
	stateColumns  = []string{"id", "authority", "block_count", "last_hash", "created_at"}
	blockColNames = []string{"ledger_id", "block_index", "authority", "ts", "text", "vector", "metadata", "data_hash", "previous_hash", "vector_bound"}
)

func TestProofStoreCreateAndGet(t *testing.T) {
	t.Parallel()

	h := hashchain.Sum([]byte("payload"))
	db, drv := newMockDB(t, []mockOperation{
		execArgsOp(insertProofSQL, []driver.Value{testOwner.Hex(), int64(100), h.String(), int64(7), int64(1)}, mockResult{rowsAffected: 1}),
		queryOp(selectProofSQL, mockRowsData{
			columns: []string{"owner", "ts", "data_hash", "nonce", "verified"},
			values:  [][]driver.Value{{testOwner.Hex(), int64(100), h.String(), int64(7), int64(1)}},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewProofStore(db)
	p := &proof.Proof{Owner: testOwner, DataHash: h, Nonce: 7, Timestamp: 100, Verified: true}
	if err := store.Create(context.Background(), p); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	got, err := store.Get(context.Background(), proof.Key{Owner: testOwner, Timestamp: 100})
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Owner != testOwner || got.DataHash != h || got.Nonce != 7 || !got.Verified {
		t.Fatalf("unexpected proof: %+v", got)
	}
}

func TestProofStoreDuplicateAndMissing(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execErrOp(insertProofSQL, duplicateErr),
		queryOp(selectProofSQL, mockRowsData{columns: []string{"owner", "ts", "data_hash", "nonce", "verified"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewProofStore(db)
	err := store.Create(context.Background(), &proof.Proof{Owner: testOwner, Timestamp: 1})
	if !errors.Is(err, proof.ErrProofExists) {
		t.Fatalf("expected ErrProofExists, got %v", err)
	}
	if _, err := store.Get(context.Background(), proof.Key{Owner: testOwner, Timestamp: 1}); !errors.Is(err, proof.ErrProofNotFound) {
		t.Fatalf("expected ErrProofNotFound, got %v", err)
	}
}

func TestProofStoreListByOwner(t *testing.T) {
	t.Parallel()

	h1 := hashchain.Sum([]byte("a"))
	h2 := hashchain.Sum([]byte("b"))
	db, drv := newMockDB(t, []mockOperation{
		queryOp(listProofsSQL, mockRowsData{
			columns: []string{"owner", "ts", "data_hash", "nonce", "verified"},
			values: [][]driver.Value{
				{testOwner.Hex(), int64(20), h2.String(), int64(2), int64(0)},
				{testOwner.Hex(), int64(10), h1.String(), int64(1), int64(1)},
			},
		}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	list, err := NewProofStore(db).ListByOwner(context.Background(), testOwner, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 2 || list[0].Timestamp != 20 || list[1].DataHash != h1 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestProfileStoreLifecycle(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(insertProfileSQL, mockResult{rowsAffected: 1}),
		execErrOp(insertProfileSQL, duplicateErr),
		execArgsOp(updateProfileSQL, []driver.Value{int64(0), int64(20), testOwner.Hex()}, mockResult{rowsAffected: 1}),
		queryOp(selectProfileSQL, mockRowsData{
			columns: []string{"owner", "active", "created_at", "updated_at"},
			values:  [][]driver.Value{{testOwner.Hex(), int64(0), int64(10), int64(20)}},
		}),
		queryOp(selectProfileSQL, mockRowsData{columns: []string{"owner", "active", "created_at", "updated_at"}}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewProfileStore(db)
	ctx := context.Background()
	p := &profile.Profile{Owner: testOwner, Active: true, CreatedAt: 10, UpdatedAt: 10}
	if err := store.Create(ctx, p); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.Create(ctx, p); !errors.Is(err, profile.ErrProfileExists) {
		t.Fatalf("expected ErrProfileExists, got %v", err)
	}
	if err := store.Update(ctx, &profile.Profile{Owner: testOwner, Active: false, CreatedAt: 10, UpdatedAt: 20}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, err := store.Get(ctx, testOwner)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Active || got.UpdatedAt != 20 || got.Owner != testOwner {
		t.Fatalf("unexpected profile: %+v", got)
	}
	if _, err := store.Get(ctx, testOwner); !errors.Is(err, profile.ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestLedgerStoreAppend(t *testing.T) {
	t.Parallel()

	genesis := hashchain.GenesisHash
	dataHash := hashchain.Sum([]byte("hello"))
	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(lockStateSQL, mockRowsData{
			columns: stateColumns,
			values:  [][]driver.Value{{"main", testOwner.Hex(), int64(0), genesis.String(), int64(1)}},
		}),
		execArgsOp(insertBlockSQL, []driver.Value{
			"main", int64(0), testOwner.Hex(), int64(5), "hello", "[0.5,1]", "{}",
			dataHash.String(), genesis.String(), int64(0),
		}, mockResult{rowsAffected: 1}),
		execArgsOp(advanceStateSQL, []driver.Value{int64(1), dataHash.String(), "main"}, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewLedgerStore(db)
	block, state, err := store.Append(context.Background(), "main", func(head ledger.ChainState) (*ledger.Block, error) {
		return ledger.NewBlock(head, testOwner, ledger.Content{Text: "hello", Vector: []float64{0.5, 1}, Metadata: "{}"}, 5), nil
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if block.Index != 0 || block.PreviousHash != genesis || block.DataHash != dataHash {
		t.Fatalf("unexpected block: %+v", block)
	}
	if state.BlockCount != 1 || state.LastHash != dataHash {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestLedgerStoreAppendErrors(t *testing.T) {
	t.Parallel()

	genesis := hashchain.GenesisHash
	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(lockStateSQL, mockRowsData{columns: stateColumns}),
		rollbackOp(),
		beginOp(),
		queryOp(lockStateSQL, mockRowsData{
			columns: stateColumns,
			values:  [][]driver.Value{{"main", testOwner.Hex(), int64(0), genesis.String(), int64(1)}},
		}),
		execErrOp(insertBlockSQL, duplicateErr),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewLedgerStore(db)
	build := func(head ledger.ChainState) (*ledger.Block, error) {
		return ledger.NewBlock(head, testOwner, ledger.Content{Text: "x"}, 5), nil
	}
	if _, _, err := store.Append(context.Background(), "missing", build); !errors.Is(err, ledger.ErrLedgerNotFound) {
		t.Fatalf("expected ErrLedgerNotFound, got %v", err)
	}
	if _, _, err := store.Append(context.Background(), "main", build); !errors.Is(err, ledger.ErrHeadMoved) {
		t.Fatalf("expected ErrHeadMoved, got %v", err)
	}
}

func TestLedgerStoreInitializeAndBlocks(t *testing.T) {
	t.Parallel()

	genesis := hashchain.GenesisHash
	h0 := hashchain.Sum([]byte("a"))
	h1 := hashchain.Sum([]byte("b"))
	db, drv := newMockDB(t, []mockOperation{
		execArgsOp(insertStateSQL, []driver.Value{"main", testOwner.Hex(), int64(0), genesis.String(), int64(1)}, mockResult{rowsAffected: 1}),
		execErrOp(insertStateSQL, duplicateErr),
		queryOp(listBlocksSQL, mockRowsData{
			columns: blockColNames,
			values: [][]driver.Value{
				{"main", int64(0), testOwner.Hex(), int64(5), "a", "[]", "", h0.String(), genesis.String(), int64(0)},
				{"main", int64(1), testOwner.Hex(), int64(6), "b", "[0.25]", "m", h1.String(), h0.String(), int64(1)},
			},
		}),
		queryOp(selectBlockSQL, mockRowsData{columns: blockColNames}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewLedgerStore(db)
	ctx := context.Background()
	state := &ledger.ChainState{ID: "main", Authority: testOwner, LastHash: genesis, CreatedAt: 1}
	if err := store.Initialize(ctx, state); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if err := store.Initialize(ctx, state); !errors.Is(err, ledger.ErrLedgerExists) {
		t.Fatalf("expected ErrLedgerExists, got %v", err)
	}
	blocks, err := store.Blocks(ctx, "main", 0, 10)
	if err != nil {
		t.Fatalf("blocks failed: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Vector != nil || blocks[1].Vector[0] != 0.25 || !blocks[1].VectorBound || blocks[1].PreviousHash != h0 {
		t.Fatalf("unexpected blocks: %+v %+v", blocks[0], blocks[1])
	}
	if _, err := store.Block(ctx, "main", 9); !errors.Is(err, ledger.ErrBlockNotFound) {
		t.Fatalf("expected ErrBlockNotFound, got %v", err)
	}
}

func TestLedgerStoreMutateBlockUpdatesHead(t *testing.T) {
	t.Parallel()

	genesis := hashchain.GenesisHash
	h0 := hashchain.Sum([]byte("a"))
	bound := ledger.BoundHash("a", []float64{1})
	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(lockStateSQL, mockRowsData{
			columns: stateColumns,
			values:  [][]driver.Value{{"main", testOwner.Hex(), int64(1), h0.String(), int64(1)}},
		}),
		queryOp(lockBlockSQL, mockRowsData{
			columns: blockColNames,
			values:  [][]driver.Value{{"main", int64(0), testOwner.Hex(), int64(5), "a", "[]", "", h0.String(), genesis.String(), int64(0)}},
		}),
		execArgsOp(updateBlockSQL, []driver.Value{"[1]", bound.String(), int64(1), "main", int64(0)}, mockResult{rowsAffected: 1}),
		execArgsOp(updateHeadHashSQL, []driver.Value{bound.String(), "main"}, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	updated, err := NewLedgerStore(db).MutateBlock(context.Background(), "main", 0, func(state *ledger.ChainState, b *ledger.Block) error {
		b.Vector = []float64{1}
		b.DataHash = ledger.BoundHash(b.Text, b.Vector)
		b.VectorBound = true
		state.LastHash = b.DataHash
		return nil
	})
	if err != nil {
		t.Fatalf("mutate failed: %v", err)
	}
	if updated.DataHash != bound || !updated.VectorBound {
		t.Fatalf("unexpected block: %+v", updated)
	}
}

func TestLedgerStoreMutateBlockRollsBackOnError(t *testing.T) {
	t.Parallel()

	genesis := hashchain.GenesisHash
	h0 := hashchain.Sum([]byte("a"))
	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(lockStateSQL, mockRowsData{
			columns: stateColumns,
			values:  [][]driver.Value{{"main", testOwner.Hex(), int64(1), h0.String(), int64(1)}},
		}),
		queryOp(lockBlockSQL, mockRowsData{
			columns: blockColNames,
			values:  [][]driver.Value{{"main", int64(0), testOwner.Hex(), int64(5), "a", "[]", "", h0.String(), genesis.String(), int64(0)}},
		}),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	sentinel := errors.New("rejected")
	_, err := NewLedgerStore(db).MutateBlock(context.Background(), "main", 0, func(*ledger.ChainState, *ledger.Block) error {
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

func TestRunMigrationsSkipsAppliedVersions(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(createVersionTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}, {"0002"}},
		}),
		beginOp(),
		execOp(readMigrationStatement(t, "0003_create_profiles.sql"), mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestMigrationRecordsNameAndTimestamp(t *testing.T) {
	t.Parallel()

	source := fstest.MapFS{
		"0001_seed.sql": {Data: []byte("CREATE TABLE a (id INT);")},
	}
	db, drv := newMockDB(t, []mockOperation{
		execOp(createVersionTable, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp("CREATE TABLE a (id INT)", mockResult{}),
		execArgsOp(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			[]driver.Value{"0001", "0001_seed.sql", int64(1_700_000_000)}, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	m := migrator{db: db, source: source, now: func() time.Time { return time.Unix(1_700_000_000, 0) }}
	if err := m.migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
}

func TestReadMigrationsOrdered(t *testing.T) {
	t.Parallel()

	files, err := readMigrations(embeddedMigrations)
	if err != nil {
		t.Fatalf("load migrations failed: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(files))
	}
	if files[0].version != "0001" || files[2].version != "0003" {
		t.Fatalf("unexpected order: %+v", files)
	}
	if len(files[1].statements) != 2 {
		t.Fatalf("expected ledger migration to hold 2 statements, got %d", len(files[1].statements))
	}
}

func TestReadMigrationsRejectsBadNames(t *testing.T) {
	t.Parallel()

	cases := map[string]fstest.MapFS{
		"missing prefix": {"create.sql": {Data: []byte("SELECT 1")}},
		"non numeric":    {"v1_create.sql": {Data: []byte("SELECT 1")}},
		"duplicate": {
			"0001_a.sql": {Data: []byte("SELECT 1")},
			"0001_b.sql": {Data: []byte("SELECT 2")},
		},
	}
	for name, source := range cases {
		if _, err := readMigrations(source); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func readMigrationStatement(t *testing.T, name string) string {
	t.Helper()

	content, err := embeddedMigrations.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}
	statements := splitSQLStatements(string(content))
	if len(statements) == 0 {
		t.Fatalf("no statements in migration %s", name)
	}
	return statements[0]
}
