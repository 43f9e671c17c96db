package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LINEAGE_CONFIG", "")
	t.Setenv("API_ADDR", "")
	t.Setenv("LINEAGE_INDEX_MAX_TERMS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" || cfg.IndexMaxTerms != 500 || cfg.CommitCacheTTL != 7*24*time.Hour {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lineage.yaml")
	body := `
addr: ":9000"
repos_dir: /srv/git
meili:
  url: http://meili:7700
redis:
  commit_ttl_seconds: 60
index:
  max_terms: 100
log_level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LINEAGE_CONFIG", path)
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("LINEAGE_INDEX_MAX_TERMS", "")
	t.Setenv("LINEAGE_COMMIT_CACHE_TTL_SECONDS", "")
	t.Setenv("LINEAGE_LOG_LEVEL", "")
	t.Setenv("LINEAGE_REPOS_DIR", "")
	t.Setenv("MEILI_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("env should win over file, got %s", cfg.Addr)
	}
	if cfg.ReposDir != "/srv/git" || cfg.MeiliURL != "http://meili:7700" || cfg.LogLevel != "debug" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.IndexMaxTerms != 100 || cfg.CommitCacheTTL != time.Minute {
		t.Fatalf("file numbers not applied: %+v", cfg)
	}
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("addr: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LINEAGE_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}

	t.Setenv("LINEAGE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected read error")
	}
}

func TestGetenvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("LINEAGE_INDEX_LIMIT", "lots")
	if got := getenvInt("LINEAGE_INDEX_LIMIT", 7); got != 7 {
		t.Fatalf("getenvInt() = %d, want 7", got)
	}
}
