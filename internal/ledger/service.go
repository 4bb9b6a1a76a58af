package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/events"
	"NLP-Chain/internal/hashchain"
	"NLP-Chain/internal/observability/metrics"
	"NLP-Chain/pkg/logger"
)

// VectorPolicy 决定更新向量时是否重新计算 data_hash。
type VectorPolicy string

const (
	// PolicyCompatible 只替换向量，哈希承诺不覆盖新向量。
	PolicyCompatible VectorPolicy = "compatible"
	// PolicyStrict 重新计算 data_hash = SHA-256(text ‖ vector)，
	// 仅允许修改链头区块，并同步推进 last_hash。
	PolicyStrict VectorPolicy = "strict"
)

// ParsePolicy 解析配置中的策略名称，空值视为 compatible。
func ParsePolicy(raw string) (VectorPolicy, error) {
	switch VectorPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyCompatible:
		return PolicyCompatible, nil
	case PolicyStrict:
		return PolicyStrict, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, "unknown vector policy: "+raw)
	}
}

// Embedder 为缺少向量的文本生成嵌入。
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Service 负责账本初始化、区块追加、向量更新与完整性校验。
type Service struct {
	store          Store
	publisher      events.Publisher
	embedder       Embedder
	policy         VectorPolicy
	restrictAppend bool
	now            func() time.Time
	log            *slog.Logger
}

// Option 定义可选配置。
type Option func(*Service)

// WithPublisher 配置状态变更后的事件发布。
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithEmbedder 配置在未提供向量时使用的嵌入器。
func WithEmbedder(e Embedder) Option {
	return func(s *Service) {
		s.embedder = e
	}
}

// WithVectorPolicy 设置向量更新策略。
func WithVectorPolicy(p VectorPolicy) Option {
	return func(s *Service) {
		if p != "" {
			s.policy = p
		}
	}
}

// WithRestrictedAppend 限制只有账本权限方可以追加区块。
func WithRestrictedAppend(restrict bool) Option {
	return func(s *Service) {
		s.restrictAppend = restrict
	}
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 构造账本服务。
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: events.Discard{},
		policy:    PolicyCompatible,
		now:       time.Now,
		log:       logger.Named("ledger"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Policy 返回当前向量更新策略。
func (s *Service) Policy() VectorPolicy { return s.policy }

// Initialize 在创世状态创建账本。id 为空时生成随机 ID。
func (s *Service) Initialize(ctx context.Context, authority common.Address, id string) (*ChainState, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "ledger store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	} else if len(id) > 64 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "ledger id must be at most 64 characters")
	}
	state := &ChainState{
		ID:         id,
		Authority:  authority,
		BlockCount: 0,
		LastHash:   hashchain.GenesisHash,
		CreatedAt:  s.now().Unix(),
	}
	if err := s.store.Initialize(ctx, state); err != nil {
		return nil, err
	}

	evt := events.New(events.TypeLedgerInitialized)
	evt.LedgerID = id
	evt.Owner = authority.Hex()
	s.publish(ctx, evt)
	logger.Audit().Info("ledger_initialized",
		slog.String("ledger_id", id),
		slog.String("authority", authority.Hex()),
	)
	return cloneState(state), nil
}

// AddBlock 追加一个区块。向量为空且配置了嵌入器时先为文本生成向量。
func (s *Service) AddBlock(ctx context.Context, caller common.Address, ledgerID string, content Content) (*Block, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "ledger store not initialized")
	}
	if len(content.Vector) == 0 && s.embedder != nil && strings.TrimSpace(content.Text) != "" {
		vector, err := s.embedder.Embed(ctx, content.Text)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "embed block text")
		}
		content.Vector = vector
	}
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	started := time.Now()
	block, state, err := s.store.Append(ctx, ledgerID, func(head ChainState) (*Block, error) {
		if s.restrictAppend && head.Authority != caller {
			return nil, ErrUnauthorized
		}
		return NewBlock(head, caller, content, s.now().Unix()), nil
	})
	if err != nil {
		metrics.ObserveAppend(ledgerID, 0, err, started)
		if xerrors.CodeOf(err) == xerrors.CodeStorageFailure {
			s.log.Error("追加区块失败", slog.Any("error", err), slog.String("ledger_id", ledgerID))
		}
		return nil, err
	}
	metrics.ObserveAppend(ledgerID, state.BlockCount, nil, started)

	evt := events.New(events.TypeBlockAppended)
	evt.LedgerID = ledgerID
	evt.Owner = caller.Hex()
	evt.Index = block.Index
	evt.DataHash = block.DataHash.String()
	s.publish(ctx, evt)
	logger.Audit().Info("block_appended",
		slog.String("ledger_id", ledgerID),
		slog.String("authority", caller.Hex()),
		slog.Uint64("index", block.Index),
		slog.String("data_hash", block.DataHash.String()),
		slog.String("previous_hash", block.PreviousHash.String()),
	)
	return block, nil
}

// UpdateVector 替换区块向量。调用方必须是区块的权限方。
// 默认策略下 data_hash、previous_hash 与 index 均保持不变，
// 因此账本的哈希承诺不再覆盖更新后的向量。
func (s *Service) UpdateVector(ctx context.Context, caller common.Address, ledgerID string, index uint64, vector []float64) (*Block, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "ledger store not initialized")
	}
	if err := ValidateVector(vector); err != nil {
		return nil, err
	}
	policy := s.policy
	block, err := s.store.MutateBlock(ctx, ledgerID, index, func(state *ChainState, b *Block) error {
		if caller != b.Authority {
			return ErrUnauthorizedUpdate
		}
		b.Vector = cloneVector(vector)
		if policy != PolicyStrict {
			return nil
		}
		if b.Index+1 != state.BlockCount {
			return ErrVectorFrozen
		}
		b.DataHash = BoundHash(b.Text, b.Vector)
		b.VectorBound = true
		state.LastHash = b.DataHash
		return nil
	})
	metrics.ObserveVectorUpdate(string(policy), err)
	if err != nil {
		if xerrors.CodeOf(err) == CodeUnauthorizedUpdate {
			logger.Audit().Warn("vector_update_denied",
				slog.String("ledger_id", ledgerID),
				slog.Uint64("index", index),
				slog.String("caller", caller.Hex()),
			)
		}
		return nil, err
	}

	evt := events.New(events.TypeBlockVectorUpdated)
	evt.LedgerID = ledgerID
	evt.Owner = caller.Hex()
	evt.Index = index
	evt.DataHash = block.DataHash.String()
	evt.Attributes = map[string]string{"policy": string(policy)}
	s.publish(ctx, evt)
	logger.Audit().Info("block_vector_updated",
		slog.String("ledger_id", ledgerID),
		slog.Uint64("index", index),
		slog.String("caller", caller.Hex()),
		slog.String("policy", string(policy)),
		slog.Int("dimension", len(vector)),
	)
	return block, nil
}

// State 返回账本链头。
func (s *Service) State(ctx context.Context, ledgerID string) (*ChainState, error) {
	return s.store.State(ctx, ledgerID)
}

// Block 返回指定区块。
func (s *Service) Block(ctx context.Context, ledgerID string, index uint64) (*Block, error) {
	return s.store.Block(ctx, ledgerID, index)
}

// Blocks 分页返回区块，limit 超出范围时使用默认值。
func (s *Service) Blocks(ctx context.Context, ledgerID string, from uint64, limit int) ([]*Block, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if _, err := s.store.State(ctx, ledgerID); err != nil {
		return nil, err
	}
	return s.store.Blocks(ctx, ledgerID, from, limit)
}

// Close 释放底层存储。
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.log.Error("发布账本事件失败",
			slog.Any("error", err),
			slog.String("type", string(evt.Type)),
			slog.String("ledger_id", evt.LedgerID),
		)
	}
}
