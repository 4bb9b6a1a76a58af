// Package profile 维护与账本无关的用户激活标记。
package profile

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
)

// Profile 记录所有者及其激活状态。时间戳为 Unix 秒。
type Profile struct {
	Owner     common.Address `json:"owner"`
	Active    bool           `json:"active"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

var (
	// ErrProfileExists 表示所有者已初始化过资料。
	ErrProfileExists = xerrors.New(xerrors.CodeAlreadyExists, "profile already exists")
	// ErrProfileNotFound 表示资料不存在。
	ErrProfileNotFound = xerrors.New(xerrors.CodeNotFound, "profile not found")
	// ErrUnauthorized 表示调用方不是资料所有者。
	ErrUnauthorized = xerrors.New(xerrors.CodeUnauthorized, "caller is not the profile owner")
)

// Store 抽象了资料的持久化。Create 在所有者已存在时返回 ErrProfileExists。
type Store interface {
	Create(ctx context.Context, p *Profile) error
	Get(ctx context.Context, owner common.Address) (*Profile, error)
	Update(ctx context.Context, p *Profile) error
	Close() error
}

func cloneProfile(p *Profile) *Profile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
