package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/identity"
	"NLP-Chain/internal/token"
)

var (
	errProfilesDisabled = xerrors.New(xerrors.CodeInitializationFailure, "profile service not configured")
	errTokensDisabled   = xerrors.New(xerrors.CodeInitializationFailure, "token service not configured")
)

type updateStatusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type interactionRequest struct {
	From   string `json:"from" validate:"required"`
	To     string `json:"to" validate:"required"`
	Owner  string `json:"owner" validate:"required"`
	Amount uint64 `json:"amount" validate:"gt=0"`
}

// handleCreateUser 以调用方为 owner 创建资料。
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if s.svc.Profiles == nil {
		writeError(w, errProfilesDisabled)
		return
	}
	caller, err := identity.RequireCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.svc.Profiles.InitializeUser(r.Context(), caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if s.svc.Profiles == nil {
		writeError(w, errProfilesDisabled)
		return
	}
	owner, err := identity.Parse(r.PathValue("owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.svc.Profiles.Get(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	if s.svc.Profiles == nil {
		writeError(w, errProfilesDisabled)
		return
	}
	caller, err := identity.RequireCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	owner, err := identity.Parse(r.PathValue("owner"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateStatusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := s.svc.Profiles.UpdateStatus(r.Context(), caller, owner, *req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	if s.svc.Tokens == nil {
		writeError(w, errTokensDisabled)
		return
	}
	caller, err := identity.RequireCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var req interactionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var in token.Interaction
	for _, f := range []struct {
		raw string
		dst *common.Address
	}{{req.From, &in.From}, {req.To, &in.To}, {req.Owner, &in.Owner}} {
		addr, err := identity.Parse(f.raw)
		if err != nil {
			writeError(w, err)
			return
		}
		*f.dst = addr
	}
	in.Amount = req.Amount

	receipt, err := s.svc.Tokens.ProcessInteraction(r.Context(), caller, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}
