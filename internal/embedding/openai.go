package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultModel     = "text-embedding-3-small"
	defaultDimension = 768
	defaultTimeout   = 30 * time.Second
)

// OpenAIConfig 描述调用 OpenAI Embeddings API 所需的信息。
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// OpenAIEmbedder 通过 OpenAI 兼容接口生成嵌入。
type OpenAIEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// NewOpenAIEmbedder 根据配置创建嵌入器。Dimension 不得超过 768。
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = defaultDimension
	}
	if dimension > defaultDimension {
		return nil, fmt.Errorf("嵌入维度 %d 超过上限 %d", dimension, defaultDimension)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     openai.EmbeddingModel(model),
		dimension: dimension,
	}, nil
}

// Dimension 返回生成向量的维度。
func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

// Embed 实现 Embedder 接口。
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 实现 BatchEmbedder 接口。
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      e.model,
		Dimensions: e.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 嵌入失败: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI 返回 %d 个嵌入，期望 %d 个", len(resp.Data), len(texts))
	}
	out := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("OpenAI 返回的嵌入序号 %d 越界", item.Index)
		}
		if len(item.Embedding) > defaultDimension {
			return nil, fmt.Errorf("OpenAI 返回的嵌入维度 %d 超过上限", len(item.Embedding))
		}
		vector := make([]float64, len(item.Embedding))
		for i, v := range item.Embedding {
			vector[i] = float64(v)
		}
		out[item.Index] = vector
	}
	return out, nil
}

var (
	_ Embedder      = (*OpenAIEmbedder)(nil)
	_ BatchEmbedder = (*OpenAIEmbedder)(nil)
)
