package proof

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/hashchain"
)

// Proof 是所有者声明的 (data_hash, nonce) 记录。Nonce 原样保存，
// 不会被重新哈希以核对 DataHash，两者的关联由提交方自行保证。
type Proof struct {
	Owner     common.Address `json:"owner"`
	DataHash  hashchain.Hash `json:"data_hash"`
	Nonce     uint64         `json:"nonce"`
	Timestamp int64          `json:"timestamp"`
	Verified  bool           `json:"verified"`
}

// Key 唯一定位一条证明。
type Key struct {
	Owner     common.Address `json:"owner"`
	Timestamp int64          `json:"timestamp"`
}

// Key 返回证明的存储键。
func (p *Proof) Key() Key {
	return Key{Owner: p.Owner, Timestamp: p.Timestamp}
}

const (
	CodeInvalidProof xerrors.Code = "INVALID_PROOF"
	CodeInvalidChain xerrors.Code = "INVALID_CHAIN"
)

var (
	// ErrInvalidProof 表示 data_hash 未满足提交难度。
	ErrInvalidProof = xerrors.New(CodeInvalidProof, "invalid proof: data hash does not meet difficulty requirement")
	// ErrInvalidChain 表示两条证明未正确链接。
	ErrInvalidChain = xerrors.New(CodeInvalidChain, "invalid chain: proofs are not properly linked")
	// ErrProofExists 表示 (owner, timestamp) 处已存在证明。
	ErrProofExists = xerrors.New(xerrors.CodeAlreadyExists, "proof already exists at this owner and timestamp")
	// ErrProofNotFound 表示证明不存在。
	ErrProofNotFound = xerrors.New(xerrors.CodeNotFound, "proof not found")
)

func init() {
	xerrors.Register(CodeInvalidProof, xerrors.Attributes{
		Message:    "invalid proof",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusUnprocessableEntity,
	})
	xerrors.Register(CodeInvalidChain, xerrors.Attributes{
		Message:    "invalid chain",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusUnprocessableEntity,
	})
}

func cloneProof(p *Proof) *Proof {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
