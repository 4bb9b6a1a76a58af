// Package token 把用户交互委托给外部 ERC-20 合约完成代币转账。
// 本包只做所有者校验与错误传播，转账逻辑完全由代币合约负责。
package token

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
)

// CodeTransferFailed 表示委托的代币转账失败。
const CodeTransferFailed xerrors.Code = "TOKEN_TRANSFER_FAILED"

var (
	// ErrUnauthorized 表示调用方不是交互声明的所有者。
	ErrUnauthorized = xerrors.New(xerrors.CodeUnauthorized, "caller is not the interaction owner")
	// ErrNotConfigured 表示未配置代币委托。
	ErrNotConfigured = xerrors.New(xerrors.CodeInitializationFailure, "token transfer delegate not configured")
)

func init() {
	xerrors.Register(CodeTransferFailed, xerrors.Attributes{
		Message:    "token transfer failed",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusBadGateway,
	})
}

// Interaction 描述一次需要转账的交互。
type Interaction struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Owner  common.Address `json:"owner"`
	Amount uint64         `json:"amount"`
}

// Receipt 是转账提交后的回执。
type Receipt struct {
	TxHash common.Hash `json:"tx_hash"`
}

// Transferer 执行实际的代币转账。
type Transferer interface {
	Transfer(ctx context.Context, in Interaction) (Receipt, error)
}
