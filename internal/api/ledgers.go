package api

import (
	"net/http"
	"strconv"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/internal/hashchain"
	"NLP-Chain/internal/identity"
	"NLP-Chain/internal/index"
	"NLP-Chain/internal/ledger"
)

var (
	errLedgersDisabled = xerrors.New(xerrors.CodeInitializationFailure, "ledger service not configured")
	errSearchDisabled  = xerrors.New(xerrors.CodeInitializationFailure, "search is not configured")
)

type createLedgerRequest struct {
	ID string `json:"id" validate:"max=64"`
}

type addBlockRequest struct {
	Text     string    `json:"text"`
	Vector   []float64 `json:"vector"`
	Metadata string    `json:"metadata"`
}

type updateVectorRequest struct {
	Vector []float64 `json:"vector"`
}

type merkleResponse struct {
	Root   hashchain.Hash `json:"root"`
	From   uint64         `json:"from"`
	Leaves uint64         `json:"leaves"`
}

func (s *Server) handleCreateLedger(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ledgers == nil {
		writeError(w, errLedgersDisabled)
		return
	}
	caller, err := identity.RequireCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var req createLedgerRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	state, err := s.svc.Ledgers.Initialize(r.Context(), caller, req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (s *Server) handleLedgerState(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ledgers == nil {
		writeError(w, errLedgersDisabled)
		return
	}
	state, err := s.svc.Ledgers.State(r.Context(), r.PathValue("ledger"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleAddBlock(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ledgers == nil {
		writeError(w, errLedgersDisabled)
		return
	}
	caller, err := identity.RequireCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	var req addBlockRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	b, err := s.svc.Ledgers.AddBlock(r.Context(), caller, r.PathValue("ledger"), ledger.Content{
		Text:     req.Text,
		Vector:   req.Vector,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ledgers == nil {
		writeError(w, errLedgersDisabled)
		return
	}
	from, err := queryUint(r, "from", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	blocks, err := s.svc.Ledgers.Blocks(r.Context(), r.PathValue("ledger"), from, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ledgers == nil {
		writeError(w, errLedgersDisabled)
		return
	}
	idx, err := pathUint(r, "index")
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := s.svc.Ledgers.Block(r.Context(), r.PathValue("ledger"), idx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleUpdateVector(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ledgers == nil {
		writeError(w, errLedgersDisabled)
		return
	}
	caller, err := identity.RequireCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	idx, err := pathUint(r, "index")
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateVectorRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	b, err := s.svc.Ledgers.UpdateVector(r.Context(), caller, r.PathValue("ledger"), idx, req.Vector)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ledgers == nil {
		writeError(w, errLedgersDisabled)
		return
	}
	report, err := s.svc.Ledgers.Verify(r.Context(), r.PathValue("ledger"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleMerkleRoot(w http.ResponseWriter, r *http.Request) {
	if s.svc.Ledgers == nil {
		writeError(w, errLedgersDisabled)
		return
	}
	from, err := queryUint(r, "from", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := queryUint(r, "to", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	root, leaves, err := s.svc.Ledgers.MerkleRoot(r.Context(), r.PathValue("ledger"), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merkleResponse{Root: root, From: from, Leaves: leaves})
}

// handleSearch 按查询文本检索相似区块：q 必填，ledger/threshold/limit 可选。
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.svc.Search == nil {
		writeError(w, errSearchDisabled)
		return
	}
	q := r.URL.Query()
	var threshold float64
	if raw := q.Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "invalid query parameter threshold"))
			return
		}
		threshold = v
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	matches, err := s.svc.Search.Search(r.Context(), index.SearchRequest{
		Query:     q.Get("q"),
		LedgerID:  q.Get("ledger"),
		Threshold: threshold,
		Limit:     limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}
