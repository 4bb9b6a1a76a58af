package hashchain

import (
	"crypto/sha256"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeetsDifficulty(t *testing.T) {
	var h Hash
	h[3] = 0x01

	assert.True(t, MeetsDifficulty(h, 0))
	assert.True(t, MeetsDifficulty(h, 3))
	assert.False(t, MeetsDifficulty(h, 4))

	var zero Hash
	assert.True(t, MeetsDifficulty(zero, HashSize))
	assert.True(t, MeetsDifficulty(zero, 64), "difficulty above 32 is clamped")

	h = Hash{}
	h[0] = 0xff
	assert.False(t, MeetsDifficulty(h, 1))
	assert.True(t, MeetsDifficulty(h, -1), "negative difficulty is trivially met")
}

func TestGenesisHash(t *testing.T) {
	want := sha256.Sum256(make([]byte, 32))
	assert.Equal(t, Hash(want), GenesisHash)
	assert.Equal(t, "66687aadf862bd776c8fc18b8e9f8e20089714856ee233b3902a591d0d5f2925", GenesisHash.String())
}

func TestChainHashConcatenatesInOrder(t *testing.T) {
	a := Sum([]byte("a"))
	b := Sum([]byte("b"))

	want := sha256.Sum256(append(a.Bytes(), b.Bytes()...))
	assert.Equal(t, Hash(want), ChainHash(a, b))
	assert.NotEqual(t, ChainHash(a, b), ChainHash(b, a))
}

func TestParseHashRoundTrip(t *testing.T) {
	h := Sum([]byte("hello world"))

	parsed, err := ParseHash("0x" + h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = ParseHash("abcd")
	assert.Error(t, err)
	_, err = ParseHash("zz" + h.String()[2:])
	assert.Error(t, err)
}

func TestHashJSON(t *testing.T) {
	payload := struct {
		Hash Hash `json:"hash"`
	}{Hash: GenesisHash}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hash":"`+GenesisHash.String()+`"}`, string(raw))

	var decoded struct {
		Hash Hash `json:"hash"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, GenesisHash, decoded.Hash)
}

func TestMerkleRoot(t *testing.T) {
	a, b, c := Sum([]byte("a")), Sum([]byte("b")), Sum([]byte("c"))

	assert.True(t, MerkleRoot(nil).IsZero())
	assert.Equal(t, a, MerkleRoot([]Hash{a}))
	assert.Equal(t, ChainHash(a, b), MerkleRoot([]Hash{a, b}))

	// 奇数层复制最后一个节点
	want := ChainHash(ChainHash(a, b), ChainHash(c, c))
	assert.Equal(t, want, MerkleRoot([]Hash{a, b, c}))
}
