package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// HashSize 是 SHA-256 摘要的字节数。
	HashSize = sha256.Size

	// ProofDifficulty 是提交证明时 data_hash 需要满足的前导零字节数。
	ProofDifficulty = 3
	// ChainDifficulty 是相邻证明链接哈希需要满足的前导零字节数。
	ChainDifficulty = 2
)

// Hash 是 32 字节的 SHA-256 摘要。
type Hash [HashSize]byte

// GenesisHash 是空账本的 last_hash，即 32 个零字节的 SHA-256。
var GenesisHash = Sum(make([]byte, HashSize))

// Sum 计算 data 的 SHA-256。
func Sum(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// ChainHash 计算 SHA-256(prev ‖ curr)。
func ChainHash(prev, curr Hash) Hash {
	buf := make([]byte, 0, 2*HashSize)
	buf = append(buf, prev[:]...)
	buf = append(buf, curr[:]...)
	return Sum(buf)
}

// MeetsDifficulty 判断 h 的前 n 个字节是否全部为零。n 超出 [0, 32] 时被截断。
func MeetsDifficulty(h Hash, n int) bool {
	if n > HashSize {
		n = HashSize
	}
	for i := 0; i < n; i++ {
		if h[i] != 0 {
			return false
		}
	}
	return true
}

// ParseHash 解析 64 位十六进制字符串，允许 0x 前缀。
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(s) != 2*HashSize {
		return h, fmt.Errorf("hash must be %d hex characters, got %d", 2*HashSize, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	return h, nil
}

// FromBytes 将长度为 32 的切片转换为 Hash。
func FromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// String 返回小写十六进制表示。
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes 返回摘要的切片副本。
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// IsZero 判断是否为全零摘要。
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText 实现 encoding.TextMarshaler，JSON 中以十六进制出现。
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
