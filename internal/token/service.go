package token

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/events"
	"NLP-Chain/pkg/logger"
)

// Service 处理交互请求。
type Service struct {
	delegate  Transferer
	publisher events.Publisher
}

// Option 定义可选配置。
type Option func(*Service)

// WithPublisher 配置事件发布。
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// NewService 构造交互服务。delegate 为空时所有请求返回 ErrNotConfigured。
func NewService(delegate Transferer, opts ...Option) *Service {
	s := &Service{delegate: delegate, publisher: events.Discard{}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ProcessInteraction 校验调用方后把转账委托给代币合约。
// 委托失败时原样包装为 TOKEN_TRANSFER_FAILED，不做重试。
func (s *Service) ProcessInteraction(ctx context.Context, caller common.Address, in Interaction) (Receipt, error) {
	if caller != in.Owner {
		logger.Audit().Warn("interaction_denied",
			slog.String("owner", in.Owner.Hex()),
			slog.String("caller", caller.Hex()),
		)
		return Receipt{}, ErrUnauthorized
	}
	if s.delegate == nil {
		return Receipt{}, ErrNotConfigured
	}
	receipt, err := s.delegate.Transfer(ctx, in)
	if err != nil {
		if xerrors.CodeOf(err) == CodeTransferFailed {
			return Receipt{}, err
		}
		return Receipt{}, xerrors.Wrap(CodeTransferFailed, err, "token transfer failed")
	}

	evt := events.New(events.TypeInteraction)
	evt.Owner = in.Owner.Hex()
	evt.Attributes = map[string]string{
		"from":    in.From.Hex(),
		"to":      in.To.Hex(),
		"amount":  strconv.FormatUint(in.Amount, 10),
		"tx_hash": receipt.TxHash.Hex(),
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		logger.L().Error("发布交互事件失败", slog.Any("error", err), slog.String("owner", in.Owner.Hex()))
	}
	logger.Audit().Info("interaction_processed",
		slog.String("owner", in.Owner.Hex()),
		slog.String("from", in.From.Hex()),
		slog.String("to", in.To.Hex()),
		slog.Uint64("amount", in.Amount),
		slog.String("tx_hash", receipt.TxHash.Hex()),
	)
	return receipt, nil
}
