package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.DBName != "digital_twin" {
		t.Errorf("dbname = %q, want digital_twin", cfg.Database.DBName)
	}
	if cfg.Audit.HistoryLimit != 100 || cfg.Audit.RecentLimit != 50 {
		t.Errorf("audit limits = %+v, want 100/50", cfg.Audit)
	}
	if cfg.Ingest.MaxRows != 50000 {
		t.Errorf("max rows = %d, want 50000", cfg.Ingest.MaxRows)
	}
	if cfg.Authz.OwnerOnlyUpdates {
		t.Error("owner_only_updates should default to false")
	}
}

func TestLoadReadsFile(t *testing.T) {
	dir := t.TempDir()
	raw := `server:
  port: 9090
  cors_origins:
    - https://app.example.com
database:
  host: db.internal
  max_conns: 12
audit:
  recent_limit: 25
ingest:
  max_rows: 1000
authz:
  owner_only_updates: true
logging:
  development: true
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://app.example.com" {
		t.Errorf("cors origins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.MaxConns != 12 {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("unset database port = %d, want default 5432", cfg.Database.Port)
	}
	if cfg.Audit.RecentLimit != 25 || cfg.Audit.HistoryLimit != 100 {
		t.Errorf("audit = %+v, want recent 25 and default history 100", cfg.Audit)
	}
	if cfg.Ingest.MaxRows != 1000 {
		t.Errorf("max rows = %d, want 1000", cfg.Ingest.MaxRows)
	}
	if !cfg.Authz.OwnerOnlyUpdates || !cfg.Logging.Development {
		t.Errorf("flags = %+v / %+v, want both true", cfg.Authz, cfg.Logging)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DTDB_DATABASE_HOST", "env-host")
	t.Setenv("DTDB_SERVER_PORT", "7070")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Host != "env-host" {
		t.Errorf("host = %q, want env-host", cfg.Database.Host)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [not: valid"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("Load should reject malformed yaml")
	}
}
