package index

import (
	"context"
	"strings"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/embedding"
)

const (
	// DefaultThreshold 是未指定阈值时的最小相似度。
	DefaultThreshold = 0.8
	defaultLimit     = 20
	maxLimit         = 200
)

// Service 把查询文本嵌入后在索引中检索。
type Service struct {
	index    VectorIndex
	embedder embedding.Embedder
}

// NewService 构造检索服务。
func NewService(index VectorIndex, embedder embedding.Embedder) *Service {
	return &Service{index: index, embedder: embedder}
}

// SearchRequest 是检索参数。Threshold 为 0 时使用 DefaultThreshold。
type SearchRequest struct {
	Query     string
	LedgerID  string
	Threshold float64
	Limit     int
}

// Search 返回与查询文本相似度不低于阈值的区块，按相似度降序。
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]Match, error) {
	if s.index == nil || s.embedder == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "search requires an index and an embedder")
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "query must not be empty")
	}
	threshold := req.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < -1 || threshold > 1 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "threshold must be within [-1, 1]")
	}
	limit := req.Limit
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "embed query")
	}
	matches, err := s.index.Search(ctx, Query{
		Vector:    vector,
		LedgerID:  req.LedgerID,
		Threshold: threshold,
		Limit:     limit,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "search index")
	}
	return matches, nil
}
