package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Index.ChunkSize != 1000 {
		t.Errorf("expected ChunkSize=1000, got %d", cfg.Index.ChunkSize)
	}
	if cfg.Retrieve.TopK != 4 {
		t.Errorf("expected TopK=4, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Embedding.Model != "text-embedding-004" {
		t.Errorf("expected embedding model text-embedding-004, got %s", cfg.Embedding.Model)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", cfg.Retry.MaxAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "newsrag.yaml")

	content := `
index:
  chunk_size: 500
loader:
  timeout: 5s
  excludes: ["**/*.pdf"]
retrieve:
  top_k: 8
  neighbor_window: 1
metrics:
  textfile_path: /tmp/newsrag.prom
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Index.ChunkSize != 500 {
		t.Errorf("expected ChunkSize=500, got %d", cfg.Index.ChunkSize)
	}
	if cfg.Loader.Timeout != 5*time.Second {
		t.Errorf("expected loader timeout 5s, got %s", cfg.Loader.Timeout)
	}
	if len(cfg.Loader.Excludes) != 1 || cfg.Loader.Excludes[0] != "**/*.pdf" {
		t.Errorf("unexpected excludes: %v", cfg.Loader.Excludes)
	}
	if cfg.Retrieve.TopK != 8 {
		t.Errorf("expected TopK=8, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Retrieve.NeighborWindow != 1 {
		t.Errorf("expected NeighborWindow=1, got %d", cfg.Retrieve.NeighborWindow)
	}
	if cfg.Metrics.TextfilePath != "/tmp/newsrag.prom" {
		t.Errorf("unexpected metrics textfile path %q", cfg.Metrics.TextfilePath)
	}
	// untouched sections keep defaults
	if cfg.LLM.Model != "gemini-1.5-pro" {
		t.Errorf("expected default LLM model, got %s", cfg.LLM.Model)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "newsrag.yaml")
	if err := os.WriteFile(path, []byte("index: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".newsrag"), 0755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(tmpDir, ".newsrag", "config.yaml")

	content := `
synth:
  context_token_budget: 2000
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Synth.ContextTokenBudget != 2000 {
		t.Errorf("expected ContextTokenBudget=2000, got %d", cfg.Synth.ContextTokenBudget)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEWSRAG_CHUNK_SIZE", "250")
	t.Setenv("NEWSRAG_TOP_K", "6")
	t.Setenv("NEWSRAG_FETCH_TIMEOUT", "3s")
	t.Setenv("NEWSRAG_LLM_MODEL", "gemini-1.5-flash")

	cfg, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Index.ChunkSize != 250 {
		t.Errorf("expected ChunkSize=250, got %d", cfg.Index.ChunkSize)
	}
	if cfg.Retrieve.TopK != 6 {
		t.Errorf("expected TopK=6, got %d", cfg.Retrieve.TopK)
	}
	if cfg.Loader.Timeout != 3*time.Second {
		t.Errorf("expected timeout 3s, got %s", cfg.Loader.Timeout)
	}
	if cfg.LLM.Model != "gemini-1.5-flash" {
		t.Errorf("expected model override, got %s", cfg.LLM.Model)
	}
}

func TestEnvOverrides_Invalid(t *testing.T) {
	t.Setenv("NEWSRAG_TOP_K", "many")
	if _, err := LoadFromDir(t.TempDir()); err == nil {
		t.Error("expected error for non-numeric NEWSRAG_TOP_K")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Index.ChunkSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero chunk size")
	}

	cfg = DefaultConfig()
	cfg.Retrieve.MMRLambda = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for mmr_lambda > 1")
	}

	cfg = DefaultConfig()
	cfg.Retrieve.NeighborWindow = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for negative neighbor_window")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("NEWSRAG_TEST_KEY=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("NEWSRAG_TEST_KEY") })

	if err := LoadDotEnv(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key, err := APIKey("NEWSRAG_TEST_KEY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "from-dotenv" {
		t.Errorf("expected from-dotenv, got %s", key)
	}

	if err := LoadDotEnv(t.TempDir()); err != nil {
		t.Errorf("missing .env should not error: %v", err)
	}
}

func TestSnapshotPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = "/home/user/research"
	expected := filepath.Join("/home/user/research", "embeddings")
	if got := cfg.SnapshotPath(); got != expected {
		t.Errorf("expected %s, got %s", expected, got)
	}
}
