package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "nlpchain.yaml", `
server:
  address: ":9090"
  read_timeout: 3s
storage:
  ledger_store:
    driver: badger
  badger:
    path: chain
ledger:
  vector_policy: strict
auth:
  mode: disabled
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Server.ReadTimeout.Std() != 3*time.Second || cfg.Server.WriteTimeout.Std() != 30*time.Second {
		t.Fatalf("unexpected timeouts: %v %v", cfg.Server.ReadTimeout.Std(), cfg.Server.WriteTimeout.Std())
	}
	if cfg.Storage.ProofStore.Driver != "memory" || cfg.Storage.LedgerStore.Driver != "badger" {
		t.Fatalf("unexpected drivers: %+v", cfg.Storage)
	}
	if cfg.Storage.Badger.Path != filepath.Join(filepath.Dir(path), "chain") {
		t.Fatalf("badger path not resolved: %s", cfg.Storage.Badger.Path)
	}
	if cfg.Ledger.VectorPolicy != "strict" || cfg.Auth.Mode != "disabled" {
		t.Fatalf("unexpected ledger/auth: %+v %+v", cfg.Ledger, cfg.Auth)
	}
	if cfg.Embedding.SpanLength != 100 || cfg.Embedding.SpanOverlap != 50 {
		t.Fatalf("unexpected span defaults: %+v", cfg.Embedding)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "nlpchain.json", `{
  "server": {"address": ":7070", "shutdown_timeout": "2s"},
  "events": {"driver": "memory", "buffer_size": 8},
  "index": {"driver": "none"}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Address != ":7070" || cfg.Server.ShutdownTimeout.Std() != 2*time.Second {
		t.Fatalf("unexpected server: %+v", cfg.Server)
	}
	if cfg.Events.BufferSize != 8 || cfg.Index.Driver != "none" {
		t.Fatalf("unexpected events/index: %+v %+v", cfg.Events, cfg.Index)
	}
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv("NLPCHAIN_MYSQL_DSN", "user:pass@tcp(db:3306)/nlpchain")
	t.Setenv("NLPCHAIN_OPENAI_API_KEY", "sk-test")
	path := writeFile(t, "nlpchain.yaml", `
storage:
  proof_store:
    driver: mysql
embedding:
  provider: openai
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Storage.MySQL.DSN != "user:pass@tcp(db:3306)/nlpchain" || cfg.Embedding.APIKey != "sk-test" {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Storage.MySQL, cfg.Embedding)
	}
	if !cfg.UsesMySQL() {
		t.Fatalf("expected UsesMySQL")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"unknown driver": "storage:\n  ledger_store:\n    driver: sqlite\n",
		"mysql without dsn": "storage:\n  profile_store:\n    driver: mysql\n",
		"bad policy":      "ledger:\n  vector_policy: loose\n",
		"dimension":       "embedding:\n  dimension: 1024\n",
		"weaviate url":    "index:\n  driver: weaviate\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("NLPCHAIN_MYSQL_DSN", "")
			t.Setenv("NLPCHAIN_WEAVIATE_URL", "")
			if _, err := Load(writeFile(t, "c.yaml", body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	_, err := Load(writeFile(t, "c.yaml", "server:\n  read_timeout: soon\n"))
	if err == nil || !strings.Contains(err.Error(), "soon") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default(t.TempDir())
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}
