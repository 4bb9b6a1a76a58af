package identity

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "NLP-Chain/internal/errors"
)

// Mode 决定如何认定请求的调用方。
type Mode string

const (
	// ModeDisabled 直接信任 X-Identity 头，仅用于本地开发。
	ModeDisabled Mode = "disabled"
	// ModeSignature 要求 X-Signature 为调用方对请求摘要的 personal_sign 签名。
	ModeSignature Mode = "signature"
)

const (
	HeaderIdentity  = "X-Identity"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"

	defaultMaxSkew = 5 * time.Minute
	maxSignedBody  = 1 << 20
)

// Verifier 从 HTTP 请求中还原调用方。
// 签名模式下，写请求的同一请求描述在时间窗口内只接受一次。
type Verifier struct {
	mode    Mode
	maxSkew time.Duration
	now     func() time.Time
	replays ReplayGuard
}

// VerifierOption 调整 Verifier。
type VerifierOption func(*Verifier)

// WithReplayGuard 替换默认的进程内重放记录。
func WithReplayGuard(g ReplayGuard) VerifierOption {
	return func(v *Verifier) {
		if g != nil {
			v.replays = g
		}
	}
}

// NewVerifier 构造 Verifier，maxSkew 为 0 时使用默认 5 分钟。
func NewVerifier(mode Mode, maxSkew time.Duration, opts ...VerifierOption) *Verifier {
	if mode == "" {
		mode = ModeSignature
	}
	if maxSkew <= 0 {
		maxSkew = defaultMaxSkew
	}
	v := &Verifier{mode: mode, maxSkew: maxSkew, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	if v.replays == nil {
		v.replays = NewMemoryReplayGuard()
	}
	return v
}

// Mode 返回当前认证模式。
func (v *Verifier) Mode() Mode { return v.mode }

// CanonicalMessage 返回被签名的请求描述。
func CanonicalMessage(method, path string, timestamp int64, body []byte) []byte {
	digest := sha256.Sum256(body)
	return []byte(fmt.Sprintf("%s\n%s\n%d\n%x", strings.ToUpper(method), path, timestamp, digest))
}

// Sign 使用私钥对请求描述做 EIP-191 签名，返回 0x 前缀的十六进制签名。
func Sign(key *ecdsa.PrivateKey, method, path string, timestamp int64, body []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(CanonicalMessage(method, path, timestamp, body)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Recover 从签名中还原签名者地址。
func Recover(message []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Authenticate 还原请求的调用方。请求体会被读取并重新放回。
// 没有身份头的请求返回 ok=false 且无错误，由具体路由决定是否需要身份。
func (v *Verifier) Authenticate(r *http.Request) (caller common.Address, ok bool, err error) {
	raw := r.Header.Get(HeaderIdentity)
	if raw == "" {
		return common.Address{}, false, nil
	}
	claimed, err := Parse(raw)
	if err != nil {
		return common.Address{}, false, err
	}
	if v.mode == ModeDisabled {
		return claimed, true, nil
	}

	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return common.Address{}, false, xerrors.New(xerrors.CodeUnauthorized, "missing or malformed request timestamp")
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return common.Address{}, false, xerrors.New(xerrors.CodeUnauthorized, "request timestamp outside allowed window")
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			return common.Address{}, false, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "read request body")
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	message := CanonicalMessage(r.Method, r.URL.Path, ts, body)
	signer, err := Recover(message, r.Header.Get(HeaderSignature))
	if err != nil {
		return common.Address{}, false, xerrors.Wrap(xerrors.CodeUnauthorized, err, "invalid request signature")
	}
	if signer != claimed {
		return common.Address{}, false, xerrors.New(xerrors.CodeUnauthorized, "signature does not match identity",
			xerrors.WithMetadata("signer", signer.Hex()))
	}

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return claimed, true, nil
	}
	// 记录保留到时间戳离开窗口为止。以签名内容而非签名字节为键，
	// 同一消息的另一种合法签名编码也会被拒绝。
	ttl := time.Unix(ts, 0).Add(v.maxSkew).Sub(v.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	first, err := v.replays.Claim(r.Context(), replayKey(signer, message), ttl)
	if err != nil {
		return common.Address{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "record signed request")
	}
	if !first {
		return common.Address{}, false, xerrors.New(xerrors.CodeUnauthorized, "signed request already used",
			xerrors.WithMetadata("signer", signer.Hex()))
	}
	return claimed, true, nil
}

func replayKey(signer common.Address, message []byte) string {
	h := sha256.New()
	h.Write(signer.Bytes())
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}
