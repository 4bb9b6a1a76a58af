package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"NLP-Chain/pkg/logger"
)

// Config 描述 nlpchaind 启动所需的全部配置。
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Log       logger.Config   `json:"log" yaml:"log"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Events    EventsConfig    `json:"events" yaml:"events"`
	Index     IndexConfig     `json:"index" yaml:"index"`
	Embedding EmbeddingConfig `json:"embedding" yaml:"embedding"`
	Token     TokenConfig     `json:"token" yaml:"token"`
	Ledger    LedgerConfig    `json:"ledger" yaml:"ledger"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Alerting  AlertingConfig  `json:"alerting" yaml:"alerting"`
	Runtime   RuntimeConfig   `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 API 服务。
type ServerConfig struct {
	Address         string          `json:"address" yaml:"address"`
	ReadTimeout     Duration        `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    Duration        `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout Duration        `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig 是按调用方计算的令牌桶参数，RequestsPerSecond 为 0 表示不限流。
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `json:"burst" yaml:"burst" validate:"gte=0"`
}

// MetricsConfig 控制独立的 Prometheus 端口。Address 为空时 /metrics 挂在 API 服务上。
type MetricsConfig struct {
	Address string `json:"address" yaml:"address"`
}

// StorageConfig 为三类数据分别选择后端。
type StorageConfig struct {
	ProofStore   StoreConfig  `json:"proof_store" yaml:"proof_store"`
	LedgerStore  StoreConfig  `json:"ledger_store" yaml:"ledger_store"`
	ProfileStore StoreConfig  `json:"profile_store" yaml:"profile_store"`
	MySQL        MySQLConfig  `json:"mysql" yaml:"mysql"`
	Badger       BadgerConfig `json:"badger" yaml:"badger"`
}

// StoreConfig 选择存储驱动。
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"`
}

// MySQLConfig 描述共享的 MySQL 连接池。
type MySQLConfig struct {
	DSN             string   `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int      `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// BadgerConfig 描述嵌入式账本存储。
type BadgerConfig struct {
	Path       string `json:"path" yaml:"path"`
	InMemory   bool   `json:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
}

// CacheConfig 描述 Redis 区块缓存与追加锁。
type CacheConfig struct {
	Enabled  bool       `json:"enabled" yaml:"enabled"`
	Address  string     `json:"address" yaml:"address"`
	Password string     `json:"password" yaml:"password"`
	DB       int        `json:"db" yaml:"db"`
	Prefix   string     `json:"prefix" yaml:"prefix"`
	BlockTTL Duration   `json:"block_ttl" yaml:"block_ttl"`
	Lock     LockConfig `json:"lock" yaml:"lock"`
}

// LockConfig 控制跨进程追加锁。
type LockConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	TTL     Duration `json:"ttl" yaml:"ttl"`
	Wait    Duration `json:"wait" yaml:"wait"`
}

// EventsConfig 选择事件总线。
type EventsConfig struct {
	Driver     string         `json:"driver" yaml:"driver"`
	BufferSize int            `json:"buffer_size" yaml:"buffer_size"`
	Redis      RedisBusConfig `json:"redis" yaml:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisBusConfig 描述 Redis list 总线。
type RedisBusConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Queue    string `json:"queue" yaml:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 总线。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url"`
	Queue    string `json:"queue" yaml:"queue"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
}

// IndexConfig 选择向量索引。driver 为 none 时不启动索引器，检索接口返回未配置。
type IndexConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Workers  int            `json:"workers" yaml:"workers"`
	Weaviate WeaviateConfig `json:"weaviate" yaml:"weaviate"`
}

// WeaviateConfig 描述 Weaviate 连接。
type WeaviateConfig struct {
	URL       string `json:"url" yaml:"url"`
	ClassName string `json:"class_name" yaml:"class_name"`
}

// EmbeddingConfig 描述文本嵌入服务。
type EmbeddingConfig struct {
	Provider    string   `json:"provider" yaml:"provider"`
	APIKey      string   `json:"api_key" yaml:"api_key"`
	BaseURL     string   `json:"base_url" yaml:"base_url"`
	Model       string   `json:"model" yaml:"model"`
	Dimension   int      `json:"dimension" yaml:"dimension" validate:"gte=0,lte=768"`
	Timeout     Duration `json:"timeout" yaml:"timeout"`
	SpanLength  int      `json:"span_length" yaml:"span_length" validate:"gte=0"`
	SpanOverlap int      `json:"span_overlap" yaml:"span_overlap" validate:"gte=0,ltfield=SpanLength"`
}

// TokenConfig 描述 ERC-20 代币委托。
type TokenConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	RPCURL       string `json:"rpc_url" yaml:"rpc_url"`
	TokenAddress string `json:"token_address" yaml:"token_address"`
	PrivateKey   string `json:"private_key" yaml:"private_key"`
	ChainID      int64  `json:"chain_id" yaml:"chain_id"`
	GasLimit     uint64 `json:"gas_limit" yaml:"gas_limit"`
}

// LedgerConfig 控制账本语义。
type LedgerConfig struct {
	VectorPolicy   string `json:"vector_policy" yaml:"vector_policy" validate:"oneof=compatible strict"`
	RestrictAppend bool   `json:"restrict_append" yaml:"restrict_append"`
}

// AuthConfig 控制调用方认定方式。
type AuthConfig struct {
	Mode    string   `json:"mode" yaml:"mode" validate:"oneof=disabled signature"`
	MaxSkew Duration `json:"max_skew" yaml:"max_skew"`
}

// AlertingConfig 描述索引失败时的告警渠道。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// RuntimeConfig 放置运行时通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Load 解析配置文件，扩展名为 .json 时按 JSON 解析，否则按 YAML 解析。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(content, &cfg)
	} else {
		err = yaml.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回全部使用内存后端的配置，数据目录相对于 baseDir。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(baseDir)
	return &cfg
}

// applyEnv 用环境变量覆盖连接串与密钥，避免将其写入配置文件。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	set(&c.Server.Address, "NLPCHAIN_SERVER_ADDRESS")
	set(&c.Log.Level, "NLPCHAIN_LOG_LEVEL")
	set(&c.Storage.MySQL.DSN, "NLPCHAIN_MYSQL_DSN")
	set(&c.Cache.Address, "NLPCHAIN_REDIS_ADDR")
	set(&c.Cache.Password, "NLPCHAIN_REDIS_PASSWORD")
	set(&c.Events.Redis.Address, "NLPCHAIN_EVENTS_REDIS_ADDR", "NLPCHAIN_REDIS_ADDR")
	set(&c.Events.Redis.Password, "NLPCHAIN_REDIS_PASSWORD")
	set(&c.Events.RabbitMQ.URL, "NLPCHAIN_RABBITMQ_URL")
	set(&c.Index.Weaviate.URL, "NLPCHAIN_WEAVIATE_URL")
	set(&c.Embedding.APIKey, "NLPCHAIN_OPENAI_API_KEY", "OPENAI_API_KEY")
	set(&c.Token.RPCURL, "NLPCHAIN_TOKEN_RPC_URL")
	set(&c.Token.PrivateKey, "NLPCHAIN_TOKEN_PRIVATE_KEY")
	set(&c.Auth.Mode, "NLPCHAIN_AUTH_MODE")
}

// applyDefaults 在用户未填写部分字段时设置默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(15 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(30 * time.Second)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = int(c.Server.RateLimit.RequestsPerSecond) + 1
	}

	if c.Log.Service == "" {
		c.Log.Service = "nlpchaind"
	}

	for _, store := range []*StoreConfig{&c.Storage.ProofStore, &c.Storage.LedgerStore, &c.Storage.ProfileStore} {
		if store.Driver == "" {
			store.Driver = "memory"
		}
		store.Driver = strings.ToLower(store.Driver)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
	if c.Storage.Badger.Path == "" {
		c.Storage.Badger.Path = filepath.Join(c.Runtime.DataDir, "ledger")
	} else if !filepath.IsAbs(c.Storage.Badger.Path) {
		c.Storage.Badger.Path = filepath.Join(baseDir, c.Storage.Badger.Path)
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}

	if c.Cache.BlockTTL == 0 {
		c.Cache.BlockTTL = Duration(10 * time.Minute)
	}
	if c.Cache.Lock.TTL == 0 {
		c.Cache.Lock.TTL = Duration(10 * time.Second)
	}
	if c.Cache.Lock.Wait == 0 {
		c.Cache.Lock.Wait = Duration(5 * time.Second)
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 1024
	}

	if c.Index.Driver == "" {
		c.Index.Driver = "memory"
	}
	if c.Index.Workers <= 0 {
		c.Index.Workers = 2
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "none"
	}
	if c.Embedding.SpanLength == 0 {
		c.Embedding.SpanLength = 100
	}
	if c.Embedding.SpanOverlap == 0 {
		c.Embedding.SpanOverlap = c.Embedding.SpanLength / 2
	}

	if c.Ledger.VectorPolicy == "" {
		c.Ledger.VectorPolicy = "compatible"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "signature"
	}
}

var validate = validator.New()

// Validate 检查枚举字段与驱动所需的连接参数。
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	var errs []error
	check := func(name, driver string, allowed ...string) {
		for _, a := range allowed {
			if driver == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: 不支持的驱动 %q", name, driver))
	}
	check("storage.proof_store", c.Storage.ProofStore.Driver, "memory", "mysql")
	check("storage.ledger_store", c.Storage.LedgerStore.Driver, "memory", "mysql", "badger")
	check("storage.profile_store", c.Storage.ProfileStore.Driver, "memory", "mysql")
	check("events.driver", c.Events.Driver, "memory", "redis", "rabbitmq")
	check("index.driver", c.Index.Driver, "none", "memory", "weaviate")
	check("embedding.provider", c.Embedding.Provider, "none", "openai")

	if c.UsesMySQL() && c.Storage.MySQL.DSN == "" {
		errs = append(errs, errors.New("storage.mysql.dsn 不能为空"))
	}
	if c.Cache.Enabled && c.Cache.Address == "" {
		errs = append(errs, errors.New("cache.address 不能为空"))
	}
	if c.Events.Driver == "redis" && c.Events.Redis.Address == "" {
		errs = append(errs, errors.New("events.redis.address 不能为空"))
	}
	if c.Events.Driver == "rabbitmq" && c.Events.RabbitMQ.URL == "" {
		errs = append(errs, errors.New("events.rabbitmq.url 不能为空"))
	}
	if c.Index.Driver == "weaviate" && c.Index.Weaviate.URL == "" {
		errs = append(errs, errors.New("index.weaviate.url 不能为空"))
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		errs = append(errs, errors.New("embedding.api_key 不能为空"))
	}
	if c.Token.Enabled && (c.Token.RPCURL == "" || c.Token.TokenAddress == "" || c.Token.PrivateKey == "") {
		errs = append(errs, errors.New("token 需要 rpc_url、token_address 与 private_key"))
	}
	return errors.Join(errs...)
}

// UsesMySQL 判断是否有任一存储使用 MySQL。
func (c *Config) UsesMySQL() bool {
	return c.Storage.ProofStore.Driver == "mysql" ||
		c.Storage.LedgerStore.Driver == "mysql" ||
		c.Storage.ProfileStore.Driver == "mysql"
}
