package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"NLP-Chain/internal/identity"
	"NLP-Chain/internal/index"
	"NLP-Chain/internal/ledger"
	"NLP-Chain/internal/observability/metrics"
	"NLP-Chain/internal/profile"
	"NLP-Chain/internal/proof"
	"NLP-Chain/internal/token"
)

// Services 聚合各路由依赖的领域服务，未配置的服务返回 503。
type Services struct {
	Proofs   *proof.Service
	Ledgers  *ledger.Service
	Profiles *profile.Service
	Tokens   *token.Service
	Search   *index.Service
}

// Options 控制 HTTP 服务行为。
type Options struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// RequestsPerSecond 为每个调用方的限流速率，0 表示不限流。
	RequestsPerSecond float64
	Burst             int
	// ServeMetrics 为 true 时在同一端口暴露 /metrics。
	ServeMetrics bool
}

// Server 负责暴露 REST 接口。
type Server struct {
	opts     Options
	svc      Services
	verifier *identity.Verifier
	handler  http.Handler
}

// NewServer 构造 API 服务实例。verifier 为 nil 时使用签名模式。
func NewServer(opts Options, verifier *identity.Verifier, svc Services) *Server {
	if opts.Address == "" {
		opts.Address = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if verifier == nil {
		verifier = identity.NewVerifier(identity.ModeSignature, 0)
	}
	s := &Server{opts: opts, svc: svc, verifier: verifier}
	s.handler = s.routes()
	return s
}

// Handler 返回完整的中间件链，便于测试与嵌入。
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, instrument(name, h))
	}

	handle("POST /api/v1/users", "users.create", s.handleCreateUser)
	handle("GET /api/v1/users/{owner}", "users.get", s.handleGetUser)
	handle("PATCH /api/v1/users/{owner}/status", "users.status", s.handleUpdateStatus)
	handle("POST /api/v1/interactions", "interactions.create", s.handleInteraction)

	handle("POST /api/v1/proofs", "proofs.submit", s.handleSubmitProof)
	handle("POST /api/v1/proofs/verify-chain", "proofs.verify_chain", s.handleVerifyChain)
	handle("GET /api/v1/proofs/{owner}", "proofs.list", s.handleListProofs)
	handle("GET /api/v1/proofs/{owner}/{timestamp}", "proofs.get", s.handleGetProof)

	handle("POST /api/v1/ledgers", "ledgers.create", s.handleCreateLedger)
	handle("GET /api/v1/ledgers/{ledger}", "ledgers.state", s.handleLedgerState)
	handle("POST /api/v1/ledgers/{ledger}/blocks", "blocks.add", s.handleAddBlock)
	handle("GET /api/v1/ledgers/{ledger}/blocks", "blocks.list", s.handleListBlocks)
	handle("GET /api/v1/ledgers/{ledger}/blocks/{index}", "blocks.get", s.handleGetBlock)
	handle("PUT /api/v1/ledgers/{ledger}/blocks/{index}/vector", "blocks.vector", s.handleUpdateVector)
	handle("GET /api/v1/ledgers/{ledger}/verify", "ledgers.verify", s.handleVerifyLedger)
	handle("GET /api/v1/ledgers/{ledger}/merkle", "ledgers.merkle", s.handleMerkleRoot)

	handle("GET /api/v1/search", "search", s.handleSearch)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.ServeMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	limited := newCallerLimiter(s.opts.RequestsPerSecond, s.opts.Burst).Middleware(mux)
	return s.verifier.Middleware(limited)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Address,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, errShuttingDown)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
