package ledger

import (
	"encoding/binary"
	"math"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/hashchain"
)

// 区块字段的存储上限。
const (
	MaxTextBytes     = 1000
	MaxVectorLen     = 768
	MaxMetadataBytes = 500
)

// ChainState 是账本的链头：记录权限方、区块数与最近一次提交的哈希。
// 仅在追加区块（以及严格策略下更新链头区块向量）时被修改。
type ChainState struct {
	ID         string         `json:"id"`
	Authority  common.Address `json:"authority"`
	BlockCount uint64         `json:"block_count"`
	LastHash   hashchain.Hash `json:"last_hash"`
	CreatedAt  int64          `json:"created_at"`
}

// Advance 将链头推进到 b 之后。
func (s *ChainState) Advance(b *Block) {
	s.BlockCount = b.Index + 1
	s.LastHash = b.DataHash
}

// Block 是账本中的一条内容记录。创建后只有 Vector 可以被修改。
type Block struct {
	LedgerID     string         `json:"ledger_id"`
	Authority    common.Address `json:"authority"`
	Index        uint64         `json:"index"`
	Timestamp    int64          `json:"timestamp"`
	Text         string         `json:"text"`
	Vector       []float64      `json:"vector"`
	Metadata     string         `json:"metadata"`
	DataHash     hashchain.Hash `json:"data_hash"`
	PreviousHash hashchain.Hash `json:"previous_hash"`
	// VectorBound 表示 DataHash 已按严格策略重新计算并覆盖向量内容。
	VectorBound bool `json:"vector_bound,omitempty"`
}

// Content 是追加区块时由调用方提供的内容。
type Content struct {
	Text     string    `json:"text" validate:"maxbytes=1000"`
	Vector   []float64 `json:"vector" validate:"max=768"`
	Metadata string    `json:"metadata" validate:"maxbytes=500"`
}

// NewBlock 基于当前链头构造下一个区块：data_hash = SHA-256(text)，
// previous_hash 为追加前的 last_hash，index 为追加前的 block_count。
func NewBlock(state ChainState, authority common.Address, content Content, timestamp int64) *Block {
	return &Block{
		LedgerID:     state.ID,
		Authority:    authority,
		Index:        state.BlockCount,
		Timestamp:    timestamp,
		Text:         content.Text,
		Vector:       cloneVector(content.Vector),
		Metadata:     content.Metadata,
		DataHash:     hashchain.Sum([]byte(content.Text)),
		PreviousHash: state.LastHash,
	}
}

// ExpectedDataHash 返回区块 DataHash 应有的取值。
func (b *Block) ExpectedDataHash() hashchain.Hash {
	if b.VectorBound {
		return BoundHash(b.Text, b.Vector)
	}
	return hashchain.Sum([]byte(b.Text))
}

// BoundHash 计算 SHA-256(text ‖ vector)，向量按小端 IEEE-754 编码。
func BoundHash(text string, vector []float64) hashchain.Hash {
	buf := make([]byte, 0, len(text)+8*len(vector))
	buf = append(buf, text...)
	for _, v := range vector {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return hashchain.Sum(buf)
}

const (
	CodeUnauthorizedUpdate xerrors.Code = "UNAUTHORIZED_UPDATE"
	CodeVectorFrozen       xerrors.Code = "VECTOR_FROZEN"
)

var (
	// ErrLedgerExists 表示账本已初始化。
	ErrLedgerExists = xerrors.New(xerrors.CodeAlreadyExists, "ledger already initialized")
	// ErrLedgerNotFound 表示账本不存在。
	ErrLedgerNotFound = xerrors.New(xerrors.CodeNotFound, "ledger not found")
	// ErrBlockNotFound 表示区块不存在。
	ErrBlockNotFound = xerrors.New(xerrors.CodeNotFound, "block not found")
	// ErrBlockExists 表示区块索引已被占用。
	ErrBlockExists = xerrors.New(xerrors.CodeAlreadyExists, "block index already allocated")
	// ErrUnauthorizedUpdate 表示非权限方尝试修改区块向量。
	ErrUnauthorizedUpdate = xerrors.New(CodeUnauthorizedUpdate, "only the authority can update block data")
	// ErrUnauthorized 表示调用方不是账本权限方。
	ErrUnauthorized = xerrors.New(xerrors.CodeUnauthorized, "caller is not the ledger authority")
	// ErrVectorFrozen 表示严格策略下已被后继区块引用的区块不可修改向量。
	ErrVectorFrozen = xerrors.New(CodeVectorFrozen, "block is linked by a successor; vector is frozen under strict policy")
	// ErrHeadMoved 表示追加过程中链头被并发修改。
	ErrHeadMoved = xerrors.New(xerrors.CodeConflict, "ledger head moved during append")
)

func init() {
	xerrors.Register(CodeUnauthorizedUpdate, xerrors.Attributes{
		Message:    "only the authority can update block data",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusForbidden,
	})
	xerrors.Register(CodeVectorFrozen, xerrors.Attributes{
		Message:    "vector frozen",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
}

func cloneVector(v []float64) []float64 {
	if v == nil {
		return nil
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// CloneBlock 返回区块的深拷贝。
func CloneBlock(b *Block) *Block {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Vector = cloneVector(b.Vector)
	return &clone
}

func cloneState(s *ChainState) *ChainState {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}
