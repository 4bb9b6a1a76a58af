package hashchain

// MerkleRoot 计算叶子摘要的 Merkle 根。奇数层复制最后一个节点，
// 空输入返回零值。
func MerkleRoot(leaves []Hash) Hash {
	if len(leaves) == 0 {
		return Hash{}
	}
	level := make([]Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, ChainHash(level[i], level[i+1]))
		}
		level = next
	}
	return level[0]
}
