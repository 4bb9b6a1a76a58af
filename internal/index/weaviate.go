package index

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClassName 是区块向量在 Weaviate 中的类名。
const DefaultClassName = "LedgerBlock"

// objectNamespace 用于由 (ledger, index) 派生稳定的对象 ID。
var objectNamespace = uuid.MustParse("5a0c2f6e-7d0b-4b52-9c3e-2f4f1f1e8a61")

// WeaviateConfig 描述 Weaviate 连接参数。
type WeaviateConfig struct {
	URL       string
	ClassName string
}

// WeaviateIndex 使用 Weaviate 的 nearVector 检索。向量由本服务提供，
// 类的 vectorizer 设为 none。
type WeaviateIndex struct {
	client    *weaviate.Client
	className string
}

// NewWeaviateIndex 连接 Weaviate 并确保类已存在。
func NewWeaviateIndex(ctx context.Context, cfg WeaviateConfig) (*WeaviateIndex, error) {
	wcfg := weaviate.Config{Host: strings.TrimSpace(cfg.URL), Scheme: "http"}
	switch {
	case strings.HasPrefix(wcfg.Host, "https://"):
		wcfg.Scheme = "https"
		wcfg.Host = strings.TrimPrefix(wcfg.Host, "https://")
	case strings.HasPrefix(wcfg.Host, "http://"):
		wcfg.Host = strings.TrimPrefix(wcfg.Host, "http://")
	}
	if wcfg.Host == "" {
		return nil, fmt.Errorf("未配置 Weaviate 地址")
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Weaviate 客户端失败: %w", err)
	}
	className := strings.TrimSpace(cfg.ClassName)
	if className == "" {
		className = DefaultClassName
	}
	idx := &WeaviateIndex{client: client, className: className}
	if err := idx.ensureClass(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// ensureClass 仅在类确实不存在（404）时创建，其他查询错误原样返回。
func (w *WeaviateIndex) ensureClass(ctx context.Context) error {
	_, err := w.client.Schema().ClassGetter().WithClassName(w.className).Do(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("查询 Weaviate 类 %s 失败: %w", w.className, err)
	}
	class := &models.Class{
		Class:      w.className,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "ledgerId", DataType: []string{"text"}},
			{Name: "blockIndex", DataType: []string{"int"}},
			{Name: "text", DataType: []string{"text"}},
			{Name: "metadata", DataType: []string{"text"}},
			{Name: "timestamp", DataType: []string{"int"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("创建 Weaviate 类 %s 失败: %w", w.className, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var clientErr *fault.WeaviateClientError
	return errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound
}

// ObjectID 返回 (ledgerID, index) 对应的稳定对象 ID。
func ObjectID(ledgerID string, index uint64) string {
	return uuid.NewSHA1(objectNamespace, []byte(ledgerID+"/"+strconv.FormatUint(index, 10))).String()
}

// Upsert 实现 VectorIndex 接口。
func (w *WeaviateIndex) Upsert(ctx context.Context, e Entry) error {
	id := ObjectID(e.LedgerID, e.Index)
	props := map[string]any{
		"ledgerId":   e.LedgerID,
		"blockIndex": e.Index,
		"text":       e.Text,
		"metadata":   e.Metadata,
		"timestamp":  e.Timestamp,
	}
	vector := toFloat32(e.Vector)

	exists, err := w.client.Data().Checker().WithClassName(w.className).WithID(id).Do(ctx)
	if err != nil {
		return fmt.Errorf("检查 Weaviate 对象失败: %w", err)
	}
	if exists {
		err = w.client.Data().Updater().
			WithClassName(w.className).
			WithID(id).
			WithProperties(props).
			WithVector(vector).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("更新 Weaviate 对象失败: %w", err)
		}
		return nil
	}
	_, err = w.client.Data().Creator().
		WithClassName(w.className).
		WithID(id).
		WithProperties(props).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("写入 Weaviate 对象失败: %w", err)
	}
	return nil
}

// Search 实现 VectorIndex 接口。余弦距离下 certainty = (1 + cos) / 2。
func (w *WeaviateIndex) Search(ctx context.Context, q Query) ([]Match, error) {
	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(toFloat32(q.Vector)).
		WithCertainty(float32((1 + q.Threshold) / 2))

	fields := []graphql.Field{
		{Name: "ledgerId"},
		{Name: "blockIndex"},
		{Name: "text"},
		{Name: "metadata"},
		{Name: "timestamp"},
		{Name: "_additional { certainty }"},
	}
	get := w.client.GraphQL().Get().
		WithClassName(w.className).
		WithFields(fields...).
		WithNearVector(nearVector)
	if q.LedgerID != "" {
		get = get.WithWhere(filters.Where().
			WithPath([]string{"ledgerId"}).
			WithOperator(filters.Equal).
			WithValueString(q.LedgerID))
	}
	if q.Limit > 0 {
		get = get.WithLimit(q.Limit)
	}
	result, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("Weaviate 检索失败: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("Weaviate 检索错误: %s", result.Errors[0].Message)
	}
	matches := parseMatches(result, w.className, q.Threshold)
	sortMatches(matches)
	return matches, nil
}

// Close 对 HTTP 客户端无需操作。
func (w *WeaviateIndex) Close() error { return nil }

func parseMatches(result *models.GraphQLResponse, className string, threshold float64) []Match {
	matches := make([]Match, 0)
	if result == nil {
		return matches
	}
	data, ok := result.Data["Get"].(map[string]any)
	if !ok {
		return matches
	}
	objects, ok := data[className].([]any)
	if !ok {
		return matches
	}
	for _, obj := range objects {
		m, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		var certainty float64
		if additional, ok := m["_additional"].(map[string]any); ok {
			certainty = number(additional["certainty"])
		}
		sim := 2*certainty - 1
		if sim < threshold {
			continue
		}
		text, _ := m["text"].(string)
		metadata, _ := m["metadata"].(string)
		ledgerID, _ := m["ledgerId"].(string)
		matches = append(matches, Match{
			LedgerID:   ledgerID,
			Index:      uint64(number(m["blockIndex"])),
			Text:       text,
			Metadata:   metadata,
			Timestamp:  int64(number(m["timestamp"])),
			Similarity: sim,
		})
	}
	return matches
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

var _ VectorIndex = (*WeaviateIndex)(nil)
