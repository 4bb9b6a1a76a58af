package index

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/events"
	"NLP-Chain/internal/ledger"
	"NLP-Chain/internal/observability/alerting"
	"NLP-Chain/internal/observability/metrics"
	"NLP-Chain/pkg/logger"
)

// BlockSource 提供索引所需的区块读取能力。
type BlockSource interface {
	Block(ctx context.Context, ledgerID string, index uint64) (*ledger.Block, error)
}

// Indexer 从事件总线消费区块事件，并把区块向量写入索引。
type Indexer struct {
	source      BlockSource
	index       VectorIndex
	consumer    events.Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// IndexerOption 定义可选配置。
type IndexerOption func(*Indexer)

// WithIndexerLogger 指定日志输出。
func WithIndexerLogger(logger *slog.Logger) IndexerOption {
	return func(i *Indexer) {
		i.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) IndexerOption {
	return func(i *Indexer) {
		if workers > 0 {
			i.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) IndexerOption {
	return func(i *Indexer) {
		i.alerter = dispatcher
	}
}

// NewIndexer 构造 Indexer。
func NewIndexer(source BlockSource, index VectorIndex, consumer events.Consumer, opts ...IndexerOption) *Indexer {
	i := &Indexer{
		source:      source,
		index:       index,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	if i.workerCount <= 0 {
		i.workerCount = 1
	}
	return i
}

// Start 启动消费循环，直到上下文取消。
func (i *Indexer) Start(ctx context.Context) error {
	if i.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置事件消费者")
	}
	return i.consumer.Consume(ctx, i.workerCount, i.Handle)
}

// Handle 处理单条事件。非区块事件被忽略。
func (i *Indexer) Handle(ctx context.Context, evt events.Event) error {
	if evt.Type != events.TypeBlockAppended && evt.Type != events.TypeBlockVectorUpdated {
		return nil
	}
	if i.source == nil || i.index == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "索引器未初始化")
	}
	err := i.indexBlock(ctx, evt)
	metrics.ObserveIndexerEvent(string(evt.Type), err)
	return err
}

func (i *Indexer) indexBlock(ctx context.Context, evt events.Event) error {
	b, err := i.source.Block(ctx, evt.LedgerID, evt.Index)
	if err != nil {
		if stdErrors.Is(err, ledger.ErrBlockNotFound) || stdErrors.Is(err, ledger.ErrLedgerNotFound) {
			i.logDebug("跳过不存在的区块", slog.String("ledger_id", evt.LedgerID), slog.Uint64("index", evt.Index))
			return nil
		}
		logger.L().Error("读取区块失败", slog.Any("error", err), slog.String("ledger_id", evt.LedgerID))
		i.emitAlert(ctx, evt, xerrors.CodeOf(err), err, "load")
		return err
	}
	if len(b.Vector) == 0 {
		i.logDebug("区块无向量", slog.String("ledger_id", b.LedgerID), slog.Uint64("index", b.Index))
		return nil
	}
	entry := Entry{
		LedgerID:  b.LedgerID,
		Index:     b.Index,
		Text:      b.Text,
		Metadata:  b.Metadata,
		Timestamp: b.Timestamp,
		Vector:    b.Vector,
	}
	if err := i.index.Upsert(ctx, entry); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "写入向量索引失败")
		logger.L().Error("写入向量索引失败",
			slog.Any("error", wrapped),
			slog.String("ledger_id", b.LedgerID),
			slog.Uint64("index", b.Index),
		)
		i.emitAlert(ctx, evt, xerrors.CodeUpstreamFailure, err, "upsert")
		return wrapped
	}
	i.logDebug("区块已索引", slog.String("ledger_id", b.LedgerID), slog.Uint64("index", b.Index))
	return nil
}

func (i *Indexer) logDebug(msg string, attrs ...slog.Attr) {
	if i.logger != nil {
		i.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
	}
}

func (i *Indexer) emitAlert(ctx context.Context, evt events.Event, code xerrors.Code, cause error, stage string) {
	if i.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	alert := alerting.Event{
		Code:       code,
		Message:    cause.Error(),
		Severity:   attrs.Severity,
		Stage:      stage,
		LedgerID:   evt.LedgerID,
		Index:      evt.Index,
		EventID:    evt.ID,
		Metadata:   map[string]string{"event_type": string(evt.Type)},
		OccurredAt: time.Now(),
	}
	if err := i.alerter.Notify(ctx, alert); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("ledger_id", evt.LedgerID),
			slog.String("stage", stage),
		)
	}
}
