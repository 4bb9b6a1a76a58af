package proof

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/events"
	"NLP-Chain/internal/hashchain"
	"NLP-Chain/internal/observability/metrics"
	"NLP-Chain/pkg/logger"
)

const defaultListLimit = 50

// Service 负责证明的提交、查询与链接校验。
type Service struct {
	store     Store
	publisher events.Publisher
	now       func() time.Time
}

// Option 定义可选配置。
type Option func(*Service)

// WithClock 替换时间源，测试中用于控制 (owner, timestamp) 键。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPublisher 配置提交成功后的事件发布。
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// NewService 构造证明服务。
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, publisher: events.Discard{}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 校验 data_hash 难度后，在 (owner, 当前时间) 处创建一条已验证的证明。
// 难度不足时返回 ErrInvalidProof 且不写入任何记录；键冲突时返回 ErrProofExists。
func (s *Service) Submit(ctx context.Context, owner common.Address, dataHash hashchain.Hash, nonce uint64) (*Proof, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "proof store not initialized")
	}
	if !MeetsSubmissionDifficulty(dataHash) {
		metrics.ObserveProofSubmission("invalid")
		return nil, ErrInvalidProof
	}

	p := &Proof{
		Owner:     owner,
		DataHash:  dataHash,
		Nonce:     nonce,
		Timestamp: s.now().Unix(),
		Verified:  true,
	}
	if err := s.store.Create(ctx, p); err != nil {
		if stdErrors.Is(err, ErrProofExists) {
			metrics.ObserveProofSubmission("collision")
			return nil, err
		}
		metrics.ObserveProofSubmission("error")
		logger.L().Error("保存证明失败", slog.Any("error", err), slog.String("owner", owner.Hex()))
		return nil, err
	}
	metrics.ObserveProofSubmission("accepted")

	evt := events.New(events.TypeProofSubmitted)
	evt.Owner = owner.Hex()
	evt.DataHash = dataHash.String()
	evt.Attributes = map[string]string{"timestamp": strconv.FormatInt(p.Timestamp, 10)}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		logger.L().Error("发布证明事件失败", slog.Any("error", err), slog.String("owner", owner.Hex()))
	}
	logger.Audit().Info("proof_submitted",
		slog.String("owner", owner.Hex()),
		slog.String("data_hash", dataHash.String()),
		slog.Uint64("nonce", nonce),
		slog.Int64("timestamp", p.Timestamp),
	)
	return p, nil
}

// Get 返回指定证明。
func (s *Service) Get(ctx context.Context, key Key) (*Proof, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "proof store not initialized")
	}
	return s.store.Get(ctx, key)
}

// ListByOwner 返回所有者最近的证明。
func (s *Service) ListByOwner(ctx context.Context, owner common.Address, limit int) ([]*Proof, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "proof store not initialized")
	}
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}
	return s.store.ListByOwner(ctx, owner, limit)
}

// VerifyChain 加载两条已持久化的证明并校验链接。成功不会记录任何边。
func (s *Service) VerifyChain(ctx context.Context, previous, current Key) error {
	prev, err := s.Get(ctx, previous)
	if err != nil {
		return err
	}
	curr, err := s.Get(ctx, current)
	if err != nil {
		return err
	}
	err = VerifyLink(prev, curr)
	metrics.ObserveChainCheck(err)
	return err
}

// Close 释放底层存储。
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
