package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"NLP-Chain/internal/api"
	"NLP-Chain/internal/config"
	"NLP-Chain/internal/embedding"
	"NLP-Chain/internal/events"
	"NLP-Chain/internal/identity"
	"NLP-Chain/internal/index"
	"NLP-Chain/internal/ledger"
	"NLP-Chain/internal/observability/alerting"
	"NLP-Chain/internal/observability/metrics"
	"NLP-Chain/internal/profile"
	"NLP-Chain/internal/proof"
	badgerstore "NLP-Chain/internal/storage/badger"
	"NLP-Chain/internal/storage/mysql"
	redisstore "NLP-Chain/internal/storage/redis"
	"NLP-Chain/internal/token"
	"NLP-Chain/pkg/logger"
)

// main 是 NLP-Chain 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("nlpchaind 运行失败: %v", err)
	}
}

// cleanup 按注册顺序的逆序释放资源。
type cleanup []func()

func (c *cleanup) add(fn func()) { *c = append(*c, fn) }

func (c cleanup) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()
	daemonLog := logger.Named("daemon")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	var closers cleanup
	defer closers.run()

	var db *sql.DB
	if cfg.UsesMySQL() {
		db, err = mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Storage.MySQL.DSN,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.MySQL.ConnMaxLifetime.Std(),
			ConnMaxIdleTime: cfg.Storage.MySQL.ConnMaxIdleTime.Std(),
		})
		if err != nil {
			return err
		}
		closers.add(func() { _ = db.Close() })
	}

	proofStore, err := buildProofStore(cfg, db)
	if err != nil {
		return err
	}
	profileStore, err := buildProfileStore(cfg, db)
	if err != nil {
		return err
	}
	var redisClient goredis.UniversalClient
	if cfg.Cache.Enabled {
		redisClient, err = redisstore.NewClient(ctx, redisstore.Config{
			Address:  cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Prefix:   cfg.Cache.Prefix,
		})
		if err != nil {
			return err
		}
		closers.add(func() { _ = redisClient.Close() })
	}
	ledgerStore, err := buildLedgerStore(cfg, db, redisClient)
	if err != nil {
		return err
	}

	bus, err := buildBus(ctx, cfg)
	if err != nil {
		return err
	}
	closers.add(func() {
		if err := bus.Close(); err != nil {
			daemonLog.Warn("关闭事件总线失败", slog.Any("error", err))
		}
	})
	var publisher events.Publisher = bus
	if cfg.Index.Driver == "none" && cfg.Events.Driver == "memory" {
		// 没有消费者时内存总线会被写满。
		publisher = events.Discard{}
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}

	policy, err := ledger.ParsePolicy(cfg.Ledger.VectorPolicy)
	if err != nil {
		return err
	}
	ledgerOpts := []ledger.Option{
		ledger.WithPublisher(publisher),
		ledger.WithVectorPolicy(policy),
		ledger.WithRestrictedAppend(cfg.Ledger.RestrictAppend),
	}
	if embedder != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithEmbedder(embedder))
	}
	ledgerService := ledger.NewService(ledgerStore, ledgerOpts...)
	closers.add(func() { _ = ledgerService.Close() })

	proofService := proof.NewService(proofStore, proof.WithPublisher(publisher))
	closers.add(func() { _ = proofService.Close() })
	profileService := profile.NewService(profileStore, profile.WithPublisher(publisher))
	closers.add(func() { _ = profileService.Close() })

	var transferer token.Transferer
	if cfg.Token.Enabled {
		evm, err := token.NewEVMTransferer(ctx, token.EVMConfig{
			RPCURL:       cfg.Token.RPCURL,
			TokenAddress: cfg.Token.TokenAddress,
			PrivateKey:   cfg.Token.PrivateKey,
			ChainID:      cfg.Token.ChainID,
			GasLimit:     cfg.Token.GasLimit,
		})
		if err != nil {
			return err
		}
		closers.add(evm.Close)
		transferer = evm
	}
	tokenService := token.NewService(transferer, token.WithPublisher(publisher))

	vectorIndex, err := buildIndex(ctx, cfg)
	if err != nil {
		return err
	}

	services := api.Services{
		Proofs:   proofService,
		Ledgers:  ledgerService,
		Profiles: profileService,
		Tokens:   tokenService,
	}
	if vectorIndex != nil && embedder != nil {
		services.Search = index.NewService(vectorIndex, embedder)
	}

	var verifierOpts []identity.VerifierOption
	if redisClient != nil {
		verifierOpts = append(verifierOpts, identity.WithReplayGuard(redisstore.NewReplayGuard(redisClient, cfg.Cache.Prefix)))
	}
	verifier := identity.NewVerifier(identity.Mode(cfg.Auth.Mode), cfg.Auth.MaxSkew.Std(), verifierOpts...)
	server := api.NewServer(api.Options{
		Address:           cfg.Server.Address,
		ReadTimeout:       cfg.Server.ReadTimeout.Std(),
		WriteTimeout:      cfg.Server.WriteTimeout.Std(),
		ShutdownTimeout:   cfg.Server.ShutdownTimeout.Std(),
		RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
		Burst:             cfg.Server.RateLimit.Burst,
		ServeMetrics:      cfg.Metrics.Address == "",
	}, verifier, services)

	g, gctx := errgroup.WithContext(ctx)
	if vectorIndex != nil {
		indexer := index.NewIndexer(ledgerService, vectorIndex, bus,
			index.WithWorkerCount(cfg.Index.Workers),
			index.WithIndexerLogger(logger.Named("indexer")),
			index.WithAlertDispatcher(buildAlerting(cfg)),
		)
		g.Go(func() error {
			if err := indexer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("索引器异常退出: %w", err)
			}
			return nil
		})
	}
	if cfg.Metrics.Address != "" {
		g.Go(func() error {
			if err := metrics.StartServer(gctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		return server.Start(gctx)
	})

	daemonLog.Info("nlpchaind 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("ledger_store", cfg.Storage.LedgerStore.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.String("index", cfg.Index.Driver),
		slog.String("vector_policy", string(policy)),
	)
	if err := g.Wait(); err != nil {
		return err
	}
	daemonLog.Info("nlpchaind 已停止")
	return nil
}

func loadConfig() (*config.Config, error) {
	configPath := os.Getenv("NLPCHAIN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "nlpchain.yaml")
	}
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		cfg := config.Default(".")
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(configPath)
}

func buildProofStore(cfg *config.Config, db *sql.DB) (proof.Store, error) {
	switch cfg.Storage.ProofStore.Driver {
	case "memory":
		return proof.NewMemoryStore(), nil
	case "mysql":
		return mysql.NewProofStore(db), nil
	default:
		return nil, fmt.Errorf("未知的证明存储驱动: %s", cfg.Storage.ProofStore.Driver)
	}
}

func buildProfileStore(cfg *config.Config, db *sql.DB) (profile.Store, error) {
	switch cfg.Storage.ProfileStore.Driver {
	case "memory":
		return profile.NewMemoryStore(), nil
	case "mysql":
		return mysql.NewProfileStore(db), nil
	default:
		return nil, fmt.Errorf("未知的资料存储驱动: %s", cfg.Storage.ProfileStore.Driver)
	}
}

// buildLedgerStore 选择账本后端。client 非空时叠加 Redis 追加锁与区块缓存。
func buildLedgerStore(cfg *config.Config, db *sql.DB, client goredis.UniversalClient) (ledger.Store, error) {
	var store ledger.Store
	switch cfg.Storage.LedgerStore.Driver {
	case "memory":
		store = ledger.NewMemoryStore()
	case "mysql":
		store = mysql.NewLedgerStore(db)
	case "badger":
		bdb, err := badgerstore.Open(badgerstore.Config{
			Path:       cfg.Storage.Badger.Path,
			InMemory:   cfg.Storage.Badger.InMemory,
			SyncWrites: cfg.Storage.Badger.SyncWrites,
			Logger:     logger.Named("badger"),
		})
		if err != nil {
			return nil, err
		}
		store = badgerstore.NewLedgerStore(bdb)
	default:
		return nil, fmt.Errorf("未知的账本存储驱动: %s", cfg.Storage.LedgerStore.Driver)
	}
	if client == nil {
		return store, nil
	}
	if cfg.Cache.Lock.Enabled {
		locker := redisstore.NewRedisLocker(client, cfg.Cache.Prefix, cfg.Cache.Lock.Wait.Std())
		store = redisstore.NewLockedStore(store, locker, cfg.Cache.Lock.TTL.Std())
	}
	cache := redisstore.NewRedisCache(client, cfg.Cache.Prefix)
	return redisstore.NewCachedStore(store, cache, cfg.Cache.BlockTTL.Std()), nil
}

func buildBus(ctx context.Context, cfg *config.Config) (events.Bus, error) {
	switch cfg.Events.Driver {
	case "memory":
		return events.NewMemoryBus(cfg.Events.BufferSize), nil
	case "redis":
		return events.NewRedisBus(ctx, events.RedisBusConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Queue:    cfg.Events.Redis.Queue,
		})
	case "rabbitmq":
		return events.NewRabbitMQBus(events.RabbitMQConfig{
			URL:      cfg.Events.RabbitMQ.URL,
			Queue:    cfg.Events.RabbitMQ.Queue,
			Prefetch: cfg.Events.RabbitMQ.Prefetch,
			Durable:  true,
		})
	default:
		return nil, fmt.Errorf("未知的事件总线驱动: %s", cfg.Events.Driver)
	}
}

func buildEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "none":
		return nil, nil
	case "openai":
		inner, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:    cfg.Embedding.APIKey,
			BaseURL:   cfg.Embedding.BaseURL,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			Timeout:   cfg.Embedding.Timeout.Std(),
		})
		if err != nil {
			return nil, err
		}
		return embedding.NewSpanEmbedder(inner, inner.Dimension(),
			embedding.WithSpans(cfg.Embedding.SpanLength, cfg.Embedding.SpanOverlap)), nil
	default:
		return nil, fmt.Errorf("未知的嵌入 provider: %s", cfg.Embedding.Provider)
	}
}

func buildIndex(ctx context.Context, cfg *config.Config) (index.VectorIndex, error) {
	switch cfg.Index.Driver {
	case "none":
		return nil, nil
	case "memory":
		return index.NewMemoryIndex(), nil
	case "weaviate":
		return index.NewWeaviateIndex(ctx, index.WeaviateConfig{
			URL:       cfg.Index.Weaviate.URL,
			ClassName: cfg.Index.Weaviate.ClassName,
		})
	default:
		return nil, fmt.Errorf("未知的索引驱动: %s", cfg.Index.Driver)
	}
}

func buildAlerting(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	return alerting.NewFanout(notifiers...)
}
