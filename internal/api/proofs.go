package api

import (
	"net/http"
	"strconv"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/hashchain"
	"NLP-Chain/internal/identity"
	"NLP-Chain/internal/proof"
)

var errProofsDisabled = xerrors.New(xerrors.CodeInitializationFailure, "proof service not configured")

type submitProofRequest struct {
	DataHash string `json:"data_hash" validate:"required"`
	Nonce    uint64 `json:"nonce"`
}

type proofKeyRequest struct {
	Owner     string `json:"owner" validate:"required"`
	Timestamp int64  `json:"timestamp" validate:"gt=0"`
}

type verifyChainRequest struct {
	Previous proofKeyRequest `json:"previous"`
	Current  proofKeyRequest `json:"current"`
}

type verifyChainResponse struct {
	Valid bool `json:"valid"`
}

func (k proofKeyRequest) key() (proof.Key, error) {
	owner, err := identity.Parse(k.Owner)
	if err != nil {
		return proof.Key{}, err
	}
	return proof.Key{Owner: owner, Timestamp: k.Timestamp}, nil
}

func (s *Server) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	if s.svc.Proofs == nil {
		writeError(w, errProofsDisabled)
		return
	}
	caller, err := identity.RequireCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var req submitProofRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	h, err := hashchain.ParseHash(req.DataHash)
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid data_hash"))
		return
	}
	p, err := s.svc.Proofs.Submit(r.Context(), caller, h, req.Nonce)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProofs(w http.ResponseWriter, r *http.Request) {
	if s.svc.Proofs == nil {
		writeError(w, errProofsDisabled)
		return
	}
	owner, err := identity.Parse(r.PathValue("owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := s.svc.Proofs.ListByOwner(r.Context(), owner, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	if s.svc.Proofs == nil {
		writeError(w, errProofsDisabled)
		return
	}
	owner, err := identity.Parse(r.PathValue("owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	ts, err := strconv.ParseInt(r.PathValue("timestamp"), 10, 64)
	if err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "invalid path parameter timestamp"))
		return
	}
	p, err := s.svc.Proofs.Get(r.Context(), proof.Key{Owner: owner, Timestamp: ts})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleVerifyChain 校验两条证明的链接，失败时返回 422。
func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	if s.svc.Proofs == nil {
		writeError(w, errProofsDisabled)
		return
	}
	var req verifyChainRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	prev, err := req.Previous.key()
	if err != nil {
		writeError(w, err)
		return
	}
	curr, err := req.Current.key()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.Proofs.VerifyChain(r.Context(), prev, curr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyChainResponse{Valid: true})
}
