package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/NexusLedger/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("backend: got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.RecoveryExpiration != 15*time.Second {
		t.Errorf("recovery expiration: got %v", cfg.Storage.RecoveryExpiration)
	}
	if cfg.Ledger.ContractCacheTTL != 7*24*time.Hour {
		t.Errorf("contract cache ttl: got %v", cfg.Ledger.ContractCacheTTL)
	}
	if !cfg.Ledger.FunctionsEnabled || !cfg.Storage.ReadValidation {
		t.Error("functions and read validation should default on")
	}
	if cfg.RequiresAdmin() {
		t.Error("admin should be off without a secret hash")
	}
}

func TestLoad_fileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
storage:
  backend: leveldb
  leveldb_path: /tmp/ledger
ledger:
  authentication_method: hmac
`)
	t.Setenv("LEDGER_SERVER_HTTP_PORT", "9100")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9100 {
		t.Errorf("env override: got port %d", cfg.Server.HTTPPort)
	}
	if cfg.Storage.Backend != "leveldb" || cfg.Storage.LevelDBPath != "/tmp/ledger" {
		t.Errorf("storage: got %+v", cfg.Storage)
	}
	if cfg.Ledger.AuthenticationMethod != "hmac" {
		t.Errorf("method: got %q", cfg.Ledger.AuthenticationMethod)
	}
}

func TestLoad_rejectsBadCombinations(t *testing.T) {
	cases := map[string]string{
		"backend": "storage:\n  backend: redis\n",
		"auditor": "auditor:\n  enabled: true\n",
		"proof":   "proof:\n  enabled: true\n",
		"admin":   "admin:\n  secret_hash: x\n  token_key: short\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := config.Load(writeConfig(t, body)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoad_missingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Errorf("got %v", err)
	}
}
