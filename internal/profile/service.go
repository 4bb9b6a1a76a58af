package profile

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/events"
	"NLP-Chain/pkg/logger"
)

// Service 处理资料的初始化与状态切换。
type Service struct {
	store     Store
	publisher events.Publisher
	now       func() time.Time
}

// Option 定义可选配置。
type Option func(*Service)

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPublisher 配置事件发布。
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// NewService 构造资料服务。
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, publisher: events.Discard{}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// InitializeUser 为 owner 创建激活状态的资料。
func (s *Service) InitializeUser(ctx context.Context, owner common.Address) (*Profile, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "profile store not initialized")
	}
	// UpdatedAt 保持为 0，直到第一次 UpdateStatus。
	p := &Profile{Owner: owner, Active: true, CreatedAt: s.now().Unix()}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	s.emit(ctx, events.TypeProfileCreated, p)
	logger.Audit().Info("profile_created", slog.String("owner", owner.Hex()))
	return cloneProfile(p), nil
}

// UpdateStatus 修改激活标记。只有资料所有者本人可以调用。
func (s *Service) UpdateStatus(ctx context.Context, caller, owner common.Address, active bool) (*Profile, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "profile store not initialized")
	}
	p, err := s.store.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	if caller != p.Owner {
		logger.Audit().Warn("profile_update_denied",
			slog.String("owner", owner.Hex()),
			slog.String("caller", caller.Hex()),
		)
		return nil, ErrUnauthorized
	}
	p.Active = active
	p.UpdatedAt = s.now().Unix()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	s.emit(ctx, events.TypeProfileUpdated, p)
	logger.Audit().Info("profile_updated",
		slog.String("owner", owner.Hex()),
		slog.Bool("active", active),
	)
	return p, nil
}

// Get 返回资料。
func (s *Service) Get(ctx context.Context, owner common.Address) (*Profile, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "profile store not initialized")
	}
	return s.store.Get(ctx, owner)
}

// Close 释放底层存储。
func (s *Service) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Service) emit(ctx context.Context, typ events.Type, p *Profile) {
	evt := events.New(typ)
	evt.Owner = p.Owner.Hex()
	evt.Attributes = map[string]string{"active": strconv.FormatBool(p.Active)}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		logger.L().Error("发布资料事件失败", slog.Any("error", err), slog.String("owner", p.Owner.Hex()))
	}
}
