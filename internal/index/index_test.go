package index

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/events"
	"NLP-Chain/internal/ledger"
	"NLP-Chain/internal/observability/alerting"
)

var authority = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

type fixedEmbedder struct {
	vector []float64
	err    error
}

func (f fixedEmbedder) Embed(context.Context, string) ([]float64, error) { return f.vector, f.err }

type failingIndex struct{ MemoryIndex }

func (f *failingIndex) Upsert(context.Context, Entry) error { return stdErrors.New("index offline") }

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, evt alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, evt)
	return nil
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, Cosine([]float64{1, 0}, []float64{-1, 0}), 1e-12)
	assert.Equal(t, 0.0, Cosine([]float64{1}, []float64{1, 0}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 0}))
}

func TestMemoryIndexSearch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, Entry{LedgerID: "a", Index: 0, Text: "same", Vector: []float64{1, 0}}))
	require.NoError(t, idx.Upsert(ctx, Entry{LedgerID: "a", Index: 1, Text: "close", Vector: []float64{1, 0.2}}))
	require.NoError(t, idx.Upsert(ctx, Entry{LedgerID: "b", Index: 0, Text: "orthogonal", Vector: []float64{0, 1}}))

	matches, err := idx.Search(ctx, Query{Vector: []float64{1, 0}, Threshold: 0.8})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "same", matches[0].Text)
	assert.Equal(t, "close", matches[1].Text)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)

	matches, err = idx.Search(ctx, Query{Vector: []float64{0, 1}, LedgerID: "a", Threshold: 0.5})
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = idx.Search(ctx, Query{Vector: []float64{1, 0}, Threshold: -1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, matches, 1)

	require.NoError(t, idx.Upsert(ctx, Entry{LedgerID: "a", Index: 1, Text: "replaced", Vector: []float64{0, 1}}))
	assert.Equal(t, 3, idx.Len())
}

func TestIndexerFollowsLedgerEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := events.NewMemoryBus(64)
	svc := ledger.NewService(ledger.NewMemoryStore(), ledger.WithPublisher(bus))
	idx := NewMemoryIndex()
	indexer := NewIndexer(svc, idx, bus, WithWorkerCount(2))

	done := make(chan error, 1)
	go func() { done <- indexer.Start(ctx) }()

	_, err := svc.Initialize(ctx, authority, "docs")
	require.NoError(t, err)
	_, err = svc.AddBlock(ctx, authority, "docs", ledger.Content{Text: "alpha", Vector: []float64{1, 0}})
	require.NoError(t, err)
	_, err = svc.AddBlock(ctx, authority, "docs", ledger.Content{Text: "no vector"})
	require.NoError(t, err)
	_, err = svc.AddBlock(ctx, authority, "docs", ledger.Content{Text: "beta", Vector: []float64{0, 1}})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return idx.Len() == 2 }, 3*time.Second, 10*time.Millisecond)

	_, err = svc.UpdateVector(ctx, authority, "docs", 2, []float64{1, 0})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		matches, _ := idx.Search(ctx, Query{Vector: []float64{1, 0}, Threshold: 0.99})
		return len(matches) == 2
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	err = <-done
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndexerAlertsOnUpsertFailure(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(ledger.NewMemoryStore())
	_, err := svc.Initialize(ctx, authority, "l")
	require.NoError(t, err)
	_, err = svc.AddBlock(ctx, authority, "l", ledger.Content{Text: "x", Vector: []float64{1}})
	require.NoError(t, err)

	alerter := &recordingAlerter{}
	indexer := NewIndexer(svc, &failingIndex{}, nil, WithAlertDispatcher(alerter))

	evt := events.New(events.TypeBlockAppended)
	evt.LedgerID = "l"
	err = indexer.Handle(ctx, evt)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeUpstreamFailure, xerrors.CodeOf(err))
	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, "upsert", alerter.alerts[0].Stage)
	assert.Equal(t, "l", alerter.alerts[0].LedgerID)

	missing := events.New(events.TypeBlockAppended)
	missing.LedgerID = "l"
	missing.Index = 9
	assert.NoError(t, indexer.Handle(ctx, missing), "missing blocks are skipped")

	assert.NoError(t, indexer.Handle(ctx, events.New(events.TypeProofSubmitted)))
	assert.Error(t, indexer.Start(ctx), "start without a consumer fails")
}

func TestServiceSearch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Upsert(ctx, Entry{LedgerID: "a", Index: 0, Text: "hit", Vector: []float64{1, 0}}))
	require.NoError(t, idx.Upsert(ctx, Entry{LedgerID: "a", Index: 1, Text: "near", Vector: []float64{1, 1}}))

	svc := NewService(idx, fixedEmbedder{vector: []float64{1, 0}})

	matches, err := svc.Search(ctx, SearchRequest{Query: "anything"})
	require.NoError(t, err)
	require.Len(t, matches, 1, "default threshold 0.8 excludes cos=0.707")
	assert.Equal(t, "hit", matches[0].Text)

	matches, err = svc.Search(ctx, SearchRequest{Query: "anything", Threshold: 0.5})
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	_, err = svc.Search(ctx, SearchRequest{Query: "  "})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = svc.Search(ctx, SearchRequest{Query: "q", Threshold: 2})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	failing := NewService(idx, fixedEmbedder{err: stdErrors.New("offline")})
	_, err = failing.Search(ctx, SearchRequest{Query: "q"})
	assert.Equal(t, xerrors.CodeUpstreamFailure, xerrors.CodeOf(err))
}

func TestObjectIDIsStable(t *testing.T) {
	assert.Equal(t, ObjectID("a", 1), ObjectID("a", 1))
	assert.NotEqual(t, ObjectID("a", 1), ObjectID("a", 2))
	assert.NotEqual(t, ObjectID("a", 11), ObjectID("a1", 1))
}

func TestParseWeaviateMatches(t *testing.T) {
	resp := &models.GraphQLResponse{Data: map[string]models.JSONObject{
		"Get": map[string]any{
			DefaultClassName: []any{
				map[string]any{
					"ledgerId":    "a",
					"blockIndex":  float64(3),
					"text":        "hello",
					"timestamp":   float64(1700000000),
					"_additional": map[string]any{"certainty": 0.95},
				},
				map[string]any{
					"ledgerId":    "a",
					"blockIndex":  float64(4),
					"_additional": map[string]any{"certainty": 0.6},
				},
			},
		},
	}}

	matches := parseMatches(resp, DefaultClassName, 0.8)
	require.Len(t, matches, 1)
	assert.Equal(t, uint64(3), matches[0].Index)
	assert.Equal(t, int64(1700000000), matches[0].Timestamp)
	assert.InDelta(t, 0.9, matches[0].Similarity, 1e-9)

	assert.Empty(t, parseMatches(&models.GraphQLResponse{}, DefaultClassName, 0))
}
