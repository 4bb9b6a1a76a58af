// Package logger 提供进程级的结构化日志与审计日志。
// 审计日志记录所有改变状态的操作，按大小滚动写入独立文件。
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 描述日志输出。
type Config struct {
	Level       string      `json:"level" yaml:"level"`
	Format      string      `json:"format" yaml:"format"`
	OutputPaths []string    `json:"output_paths" yaml:"output_paths"`
	Service     string      `json:"service" yaml:"service"`
	Audit       AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志。未启用时审计记录写入主日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

var (
	defaultLogger atomic.Pointer[slog.Logger]
	auditLogger   atomic.Pointer[slog.Logger]

	mu      sync.Mutex
	closers []io.Closer
)

// Init 配置全局日志。可重复调用，新配置替换旧配置并关闭旧的文件句柄。
// 文件输出与审计日志都按大小滚动。
func Init(cfg Config) error {
	out, opened, err := openOutputs(cfg.OutputPaths)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	var handler slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	}
	main := withService(slog.New(handler), cfg.Service)

	audit := main.With(slog.String("stream", "audit"))
	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			closeAll(opened)
			return errors.New("启用审计日志时必须指定 path")
		}
		w, err := rotating(cfg.Audit.Path, cfg.Audit)
		if err != nil {
			closeAll(opened)
			return err
		}
		opened = append(opened, w)
		audit = withService(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})), cfg.Service)
	}

	mu.Lock()
	previous := closers
	closers = opened
	defaultLogger.Store(main)
	auditLogger.Store(audit)
	mu.Unlock()

	closeAll(previous)
	return nil
}

func withService(l *slog.Logger, service string) *slog.Logger {
	if service == "" {
		return l
	}
	return l.With(slog.String("service", service))
}

// openOutputs 把 stdout、stderr 与文件路径合并为一个 writer，未配置时写标准输出。
func openOutputs(paths []string) (io.Writer, []io.Closer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil, nil
	}
	var (
		writers []io.Writer
		opened  []io.Closer
	)
	for _, p := range paths {
		switch strings.ToLower(p) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			w, err := rotating(p, AuditConfig{})
			if err != nil {
				closeAll(opened)
				return nil, nil, err
			}
			writers = append(writers, w)
			opened = append(opened, w)
		}
	}
	if len(writers) == 1 {
		return writers[0], opened, nil
	}
	return io.MultiWriter(writers...), opened, nil
}

// rotating 返回按大小滚动的文件 writer，未设置的滚动参数取 100MB、7 份、30 天。
func rotating(path string, cfg AuditConfig) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建日志目录 %s 失败: %w", filepath.Dir(path), err)
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 100),
		MaxBackups: orDefault(cfg.MaxBackups, 7),
		MaxAge:     orDefault(cfg.MaxAgeDays, 30),
		Compress:   cfg.Compress,
	}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseLevel 接受 slog 的级别名（大小写不敏感）以及 warning，无法识别时为 info。
func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		level = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func closeAll(cs []io.Closer) error {
	var err error
	for _, c := range cs {
		err = errors.Join(err, c.Close())
	}
	return err
}

// L 返回主日志。未初始化时使用标准输出的 JSON 日志。
func L() *slog.Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	_ = Init(Config{})
	return defaultLogger.Load()
}

// Audit 返回审计日志。
func Audit() *slog.Logger {
	if l := auditLogger.Load(); l != nil {
		return l
	}
	L()
	return auditLogger.Load()
}

// Named 返回带 component 字段的子日志。
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync 关闭所有打开的日志文件。
func Sync() error {
	mu.Lock()
	cs := closers
	closers = nil
	mu.Unlock()
	return closeAll(cs)
}
