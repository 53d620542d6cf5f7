package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Generator.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Generator.Workers)
	}
	if cfg.Refund.SweepSchedule != "@every 1h" {
		t.Errorf("sweep schedule = %q", cfg.Refund.SweepSchedule)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want default", cfg.Server.Addr)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  addr: ":9090"
  shutdown_timeout: 30s
database:
  dsn: "postgres://localhost/orderflow"
chain:
  treasury: "TreasuryAddr111"
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Server.ShutdownTimeout.Std() != 30*time.Second {
		t.Errorf("shutdown timeout = %v, want 30s", cfg.Server.ShutdownTimeout.Std())
	}
	if cfg.Database.DSN != "postgres://localhost/orderflow" {
		t.Errorf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Chain.Treasury != "TreasuryAddr111" {
		t.Errorf("treasury = %q", cfg.Chain.Treasury)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
	// Unset sections keep defaults.
	if cfg.Packager.SpoolDir != "/var/spool/orderflow" {
		t.Errorf("spool dir = %q, want default", cfg.Packager.SpoolDir)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ORDERFLOW_SERVER_ADDR", ":7070")
	t.Setenv("ORDERFLOW_GENERATOR_WORKERS", "8")
	t.Setenv("ORDERFLOW_CHAIN_TIMEOUT", "45s")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q, want :7070", cfg.Server.Addr)
	}
	if cfg.Generator.Workers != 8 {
		t.Errorf("workers = %d, want 8", cfg.Generator.Workers)
	}
	if cfg.Chain.Timeout.Std() != 45*time.Second {
		t.Errorf("timeout = %v, want 45s", cfg.Chain.Timeout.Std())
	}
}

func TestValidation(t *testing.T) {
	t.Setenv("ORDERFLOW_GENERATOR_WORKERS", "0")
	if _, err := Load(""); err == nil {
		t.Fatal("zero workers must be rejected")
	}
}
