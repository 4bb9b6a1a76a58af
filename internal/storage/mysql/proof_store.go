package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/hashchain"
	"NLP-Chain/internal/proof"
)

const (
	insertProofSQL = `INSERT INTO proofs (owner, ts, data_hash, nonce, verified) VALUES (?, ?, ?, ?, ?)`
	selectProofSQL = `SELECT owner, ts, data_hash, nonce, verified FROM proofs WHERE owner = ? AND ts = ?`
	listProofsSQL  = `SELECT owner, ts, data_hash, nonce, verified FROM proofs WHERE owner = ? ORDER BY ts DESC LIMIT ?`
)

// ProofStore 在 proofs 表中保存证明，主键 (owner, ts) 保证同一键不会被覆盖。
type ProofStore struct {
	db *sql.DB
}

// NewProofStore 使用已迁移的连接创建存储。
func NewProofStore(db *sql.DB) *ProofStore {
	return &ProofStore{db: db}
}

// Create 实现 proof.Store。主键冲突映射为 proof.ErrProofExists。
func (s *ProofStore) Create(ctx context.Context, p *proof.Proof) error {
	_, err := s.db.ExecContext(ctx, insertProofSQL,
		p.Owner.Hex(), p.Timestamp, p.DataHash.String(), p.Nonce, boolToInt(p.Verified))
	if err != nil {
		if isDuplicateEntry(err) {
			return proof.ErrProofExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入证明失败")
	}
	return nil
}

// Get 实现 proof.Store。
func (s *ProofStore) Get(ctx context.Context, key proof.Key) (*proof.Proof, error) {
	row := s.db.QueryRowContext(ctx, selectProofSQL, key.Owner.Hex(), key.Timestamp)
	p, err := scanProof(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, proof.ErrProofNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询证明失败")
	}
	return p, nil
}

// ListByOwner 实现 proof.Store。
func (s *ProofStore) ListByOwner(ctx context.Context, owner common.Address, limit int) ([]*proof.Proof, error) {
	rows, err := s.db.QueryContext(ctx, listProofsSQL, owner.Hex(), limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询证明列表失败")
	}
	defer rows.Close()

	results := make([]*proof.Proof, 0)
	for rows.Next() {
		p, err := scanProof(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析证明失败")
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历证明失败")
	}
	return results, nil
}

// Close 不关闭共享连接。
func (s *ProofStore) Close() error { return nil }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProof(row rowScanner) (*proof.Proof, error) {
	var (
		owner, dataHash string
		p               proof.Proof
	)
	if err := row.Scan(&owner, &p.Timestamp, &dataHash, &p.Nonce, &p.Verified); err != nil {
		return nil, err
	}
	h, err := hashchain.ParseHash(dataHash)
	if err != nil {
		return nil, err
	}
	p.Owner = common.HexToAddress(owner)
	p.DataHash = h
	return &p, nil
}

var _ proof.Store = (*ProofStore)(nil)
