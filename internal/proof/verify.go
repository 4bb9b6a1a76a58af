package proof

import (
	"NLP-Chain/internal/hashchain"
	xerrors "NLP-Chain/internal/errors"
)

// MeetsSubmissionDifficulty 判断 data_hash 是否满足提交门槛。
func MeetsSubmissionDifficulty(dataHash hashchain.Hash) bool {
	return hashchain.MeetsDifficulty(dataHash, hashchain.ProofDifficulty)
}

// VerifyLink 校验 previous 与 current 是否构成有效链接：时间戳严格递增，
// 且 SHA-256(previous.data_hash ‖ current.data_hash) 满足链接难度。
// 纯函数，不产生任何持久化效果。
func VerifyLink(previous, current *Proof) error {
	if previous == nil || current == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "both proofs are required")
	}
	if previous.Timestamp >= current.Timestamp {
		return xerrors.Wrap(CodeInvalidChain, ErrInvalidChain, "timestamps are not strictly increasing")
	}
	chain := hashchain.ChainHash(previous.DataHash, current.DataHash)
	if !hashchain.MeetsDifficulty(chain, hashchain.ChainDifficulty) {
		return xerrors.Wrap(CodeInvalidChain, ErrInvalidChain, "chain hash does not meet difficulty",
			xerrors.WithMetadata("chain_hash", chain.String()))
	}
	return nil
}
