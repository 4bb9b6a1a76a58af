// Package embedding 为文本生成向量表示。
package embedding

import "context"

// Embedder 为单段文本生成向量。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// BatchEmbedder 一次请求为多段文本生成向量，结果与输入顺序一致。
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}
