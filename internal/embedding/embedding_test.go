package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lengthEmbedder struct {
	seen []string
}

func (l *lengthEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	l.seen = append(l.seen, text)
	return []float64{float64(len([]rune(text))), 1}, nil
}

func TestSpanEmbedderShortText(t *testing.T) {
	inner := &lengthEmbedder{}
	s := NewSpanEmbedder(inner, 2)

	v, err := s.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 1}, v)
	assert.Equal(t, []string{"hello"}, inner.seen)
}

func TestSpanEmbedderBlankText(t *testing.T) {
	inner := &lengthEmbedder{}
	s := NewSpanEmbedder(inner, 3)

	v, err := s.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, v)
	assert.Empty(t, inner.seen)
}

func TestSpanEmbedderOverlappingSpans(t *testing.T) {
	inner := &lengthEmbedder{}
	s := NewSpanEmbedder(inner, 2, WithSpans(4, 2))

	// 10 个字符，步长 2：起点 0,2,4,6,8
	spans := s.Spans("abcdefghij")
	assert.Equal(t, []string{"abcd", "cdef", "efgh", "ghij", "ij"}, spans)

	v, err := s.Embed(context.Background(), "abcdefghij")
	require.NoError(t, err)
	assert.InDelta(t, (4.0+4+4+4+2)/5, v[0], 1e-9)
	assert.Equal(t, 1.0, v[1])
}

func TestSpanEmbedderSkipsWhitespaceSpans(t *testing.T) {
	s := NewSpanEmbedder(&lengthEmbedder{}, 2, WithSpans(2, 0))
	assert.Equal(t, []string{"ab", "cd"}, s.Spans("ab    cd"))
}

func TestMean(t *testing.T) {
	assert.Nil(t, Mean(nil))
	assert.Equal(t, []float64{2, 1}, Mean([][]float64{{1, 2}, {3}}))
}

func TestOpenAIEmbedder(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float32{0.5, 0.25}},
				{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
			},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Dimension: 2})
	require.NoError(t, err)

	vectors, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0.5, 0.25}}, vectors)
	assert.Equal(t, "text-embedding-3-small", captured["model"])
	assert.EqualValues(t, 2, captured["dimensions"])
}

func TestNewOpenAIEmbedderValidation(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{})
	assert.Error(t, err)

	_, err = NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", Dimension: 1536})
	assert.Error(t, err)
}
