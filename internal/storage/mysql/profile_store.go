package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/profile"
)

const (
	insertProfileSQL = `INSERT INTO profiles (owner, active, created_at, updated_at) VALUES (?, ?, ?, ?)`
	selectProfileSQL = `SELECT owner, active, created_at, updated_at FROM profiles WHERE owner = ?`
	updateProfileSQL = `UPDATE profiles SET active = ?, updated_at = ? WHERE owner = ?`
)

// ProfileStore 在 profiles 表中保存资料。
type ProfileStore struct {
	db *sql.DB
}

// NewProfileStore 使用已迁移的连接创建存储。
func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Create 实现 profile.Store。
func (s *ProfileStore) Create(ctx context.Context, p *profile.Profile) error {
	_, err := s.db.ExecContext(ctx, insertProfileSQL, p.Owner.Hex(), boolToInt(p.Active), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isDuplicateEntry(err) {
			return profile.ErrProfileExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入资料失败")
	}
	return nil
}

// Get 实现 profile.Store。
func (s *ProfileStore) Get(ctx context.Context, owner common.Address) (*profile.Profile, error) {
	var (
		hexOwner string
		p        profile.Profile
	)
	err := s.db.QueryRowContext(ctx, selectProfileSQL, owner.Hex()).Scan(&hexOwner, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, profile.ErrProfileNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询资料失败")
	}
	p.Owner = common.HexToAddress(hexOwner)
	return &p, nil
}

// Update 实现 profile.Store。
func (s *ProfileStore) Update(ctx context.Context, p *profile.Profile) error {
	if _, err := s.db.ExecContext(ctx, updateProfileSQL, boolToInt(p.Active), p.UpdatedAt, p.Owner.Hex()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新资料失败")
	}
	return nil
}

// Close 不关闭共享连接。
func (s *ProfileStore) Close() error { return nil }

var _ profile.Store = (*ProfileStore)(nil)
