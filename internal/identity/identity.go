package identity

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
)

// Parse 解析十六进制地址形式的身份。零地址视为无效。
func Parse(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "invalid identity address",
			xerrors.WithMetadata("identity", raw))
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "zero identity address")
	}
	return addr, nil
}

// callerKey 是上下文中存储调用方身份的键类型。
type callerKey struct{}

// WithCaller 将已认证的调用方写入上下文。
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom 从上下文中取出调用方身份。
func CallerFrom(ctx context.Context) (common.Address, bool) {
	if ctx == nil {
		return common.Address{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(common.Address)
	return caller, ok
}

// RequireCaller 与 CallerFrom 相同，但缺失时返回 UNAUTHORIZED。
func RequireCaller(ctx context.Context) (common.Address, error) {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return common.Address{}, xerrors.New(xerrors.CodeUnauthorized, "request carries no caller identity")
	}
	return caller, nil
}
