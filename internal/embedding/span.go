package embedding

import (
	"context"
	"strings"
)

const (
	DefaultSpanLength = 100
	DefaultOverlap    = 50
)

// SpanEmbedder 把长文本切成相互重叠的片段，分别嵌入后取平均值。
// 长度按字符计算。空白片段被跳过；整段为空白时返回零向量。
type SpanEmbedder struct {
	inner      Embedder
	spanLength int
	overlap    int
	dimension  int
}

// SpanOption 定义可选配置。
type SpanOption func(*SpanEmbedder)

// WithSpans 设置片段长度与重叠字符数。overlap 必须小于 length。
func WithSpans(length, overlap int) SpanOption {
	return func(s *SpanEmbedder) {
		if length > 0 && overlap >= 0 && overlap < length {
			s.spanLength = length
			s.overlap = overlap
		}
	}
}

// NewSpanEmbedder 包装 inner。dimension 用于生成空白文本的零向量。
func NewSpanEmbedder(inner Embedder, dimension int, opts ...SpanOption) *SpanEmbedder {
	s := &SpanEmbedder{
		inner:      inner,
		spanLength: DefaultSpanLength,
		overlap:    DefaultOverlap,
		dimension:  dimension,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Spans 返回待嵌入的非空白片段。
func (s *SpanEmbedder) Spans(text string) []string {
	runes := []rune(text)
	if len(runes) <= s.spanLength {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []string{text}
	}
	var spans []string
	step := s.spanLength - s.overlap
	for start := 0; start < len(runes); start += step {
		end := start + s.spanLength
		if end > len(runes) {
			end = len(runes)
		}
		span := string(runes[start:end])
		if strings.TrimSpace(span) != "" {
			spans = append(spans, span)
		}
	}
	return spans
}

// Embed 实现 Embedder 接口。
func (s *SpanEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	spans := s.Spans(text)
	if len(spans) == 0 {
		return make([]float64, s.dimension), nil
	}

	var vectors [][]float64
	if batch, ok := s.inner.(BatchEmbedder); ok {
		out, err := batch.EmbedBatch(ctx, spans)
		if err != nil {
			return nil, err
		}
		vectors = out
	} else {
		vectors = make([][]float64, 0, len(spans))
		for _, span := range spans {
			v, err := s.inner.Embed(ctx, span)
			if err != nil {
				return nil, err
			}
			vectors = append(vectors, v)
		}
	}
	return Mean(vectors), nil
}

// Mean 逐维求平均。各向量长度不同时按最长的维度计算，缺失维度视为 0。
func Mean(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	width := 0
	for _, v := range vectors {
		if len(v) > width {
			width = len(v)
		}
	}
	out := make([]float64, width)
	for _, v := range vectors {
		for i, x := range v {
			out[i] += x
		}
	}
	n := float64(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}

var _ Embedder = (*SpanEmbedder)(nil)
