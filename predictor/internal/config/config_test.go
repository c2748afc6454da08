package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.HTTPPort != "8000" {
		t.Errorf("Expected HTTP port 8000, got %s", cfg.HTTPPort)
	}
	if cfg.DefaultModel != "gradient_boosting" {
		t.Errorf("Expected default model gradient_boosting, got %s", cfg.DefaultModel)
	}
	if cfg.MaxBatchSize != 1000 {
		t.Errorf("Expected max batch size 1000, got %d", cfg.MaxBatchSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected defaults to be valid, got %v", err)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("MAX_BATCH_SIZE", "50")
	t.Setenv("CACHE_TTL_SECONDS", "10")
	t.Setenv("AUDIT_FLUSH_INTERVAL_MS", "250")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()

	if cfg.HTTPPort != "9090" {
		t.Errorf("Expected HTTP port 9090, got %s", cfg.HTTPPort)
	}
	if cfg.MaxBatchSize != 50 {
		t.Errorf("Expected max batch size 50, got %d", cfg.MaxBatchSize)
	}
	if cfg.CacheTTL().Seconds() != 10 {
		t.Errorf("Expected cache TTL 10s, got %v", cfg.CacheTTL())
	}
	if cfg.AuditFlushInterval().Milliseconds() != 250 {
		t.Errorf("Expected flush interval 250ms, got %v", cfg.AuditFlushInterval())
	}
	if cfg.RedisDB != 0 {
		t.Errorf("Expected invalid REDIS_DB to fall back to 0, got %d", cfg.RedisDB)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"sqlite without dsn", func(c *Config) { c.AuditDriver = "sqlite" }, "AUDIT_DSN"},
		{"unknown driver", func(c *Config) { c.AuditDriver = "mongo" }, "AUDIT_DRIVER"},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"zero batch size", func(c *Config) { c.MaxBatchSize = 0 }, "MAX_BATCH_SIZE"},
		{"negative cache size", func(c *Config) { c.CacheSize = -1 }, "CACHE_SIZE"},
		{"log driver", func(c *Config) { c.AuditDriver = "log" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadManifest_ResolvesRelativePaths(t *testing.T) {
	path := writeManifest(t, `default_model: decision_tree
models:
  - name: decision_tree
    path: models/dt.json
    type: decision_tree
  - name: absolute
    path: /opt/models/gb.json
  - name: nearest_centroid
    path: nc.json
    fallback_confidence: 0.5
`)

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}

	dir := filepath.Dir(path)
	if m.DefaultModel != "decision_tree" {
		t.Errorf("Expected default model decision_tree, got %s", m.DefaultModel)
	}
	if len(m.Models) != 3 {
		t.Fatalf("Expected 3 models, got %d", len(m.Models))
	}
	if m.Models[0].Path != filepath.Join(dir, "models", "dt.json") {
		t.Errorf("Expected relative path resolved against manifest dir, got %s", m.Models[0].Path)
	}
	if m.Models[1].Path != "/opt/models/gb.json" {
		t.Errorf("Expected absolute path kept, got %s", m.Models[1].Path)
	}
	if m.Models[2].FallbackConfidence != 0.5 {
		t.Errorf("Expected fallback confidence 0.5, got %v", m.Models[2].FallbackConfidence)
	}
}

func TestLoadManifest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing name", "models:\n  - path: a.json\n"},
		{"missing path", "models:\n  - name: a\n"},
		{"unknown key", "models:\n  - name: a\n    path: a.json\n    weights: 3\n"},
		{"bad fallback", "models:\n  - name: a\n    path: a.json\n    fallback_confidence: 1.5\n"},
		{"not yaml", "models: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadManifest(writeManifest(t, tt.content)); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}

	if _, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing manifest")
	}
}

func TestModelSpecs_WithoutManifest(t *testing.T) {
	cfg := Load()
	cfg.ModelsDir = "/srv/models"

	specs, defaultModel, err := cfg.ModelSpecs()
	if err != nil {
		t.Fatalf("ModelSpecs failed: %v", err)
	}
	if defaultModel != "gradient_boosting" {
		t.Errorf("Expected default gradient_boosting, got %s", defaultModel)
	}
	if len(specs) != 2 || specs[0].Name != "decision_tree" || specs[1].Name != "gradient_boosting" {
		t.Fatalf("Unexpected specs: %+v", specs)
	}
	if specs[1].Path != filepath.Join("/srv/models", "gradient_boosting_model.json") {
		t.Errorf("Unexpected path: %s", specs[1].Path)
	}
}

func TestModelSpecs_DefaultModelPrecedence(t *testing.T) {
	path := writeManifest(t, "default_model: decision_tree\nmodels:\n  - name: decision_tree\n    path: dt.json\n")

	cfg := Load()
	cfg.ModelsManifest = path

	_, defaultModel, err := cfg.ModelSpecs()
	if err != nil {
		t.Fatalf("ModelSpecs failed: %v", err)
	}
	if defaultModel != "decision_tree" {
		t.Errorf("Expected manifest default decision_tree, got %s", defaultModel)
	}

	t.Setenv("DEFAULT_MODEL", "gradient_boosting")
	cfg = Load()
	cfg.ModelsManifest = path

	_, defaultModel, err = cfg.ModelSpecs()
	if err != nil {
		t.Fatalf("ModelSpecs failed: %v", err)
	}
	if defaultModel != "gradient_boosting" {
		t.Errorf("Expected env default gradient_boosting, got %s", defaultModel)
	}
}

func TestModelSpecs_ShippedManifest(t *testing.T) {
	cfg := Load()
	cfg.ModelsManifest = filepath.Join("..", "..", "models.yaml")

	specs, defaultModel, err := cfg.ModelSpecs()
	if err != nil {
		t.Fatalf("ModelSpecs failed: %v", err)
	}
	if defaultModel != "gradient_boosting" {
		t.Errorf("Expected default gradient_boosting, got %s", defaultModel)
	}
	if len(specs) != 3 {
		t.Fatalf("Expected 3 models, got %d", len(specs))
	}
	for _, spec := range specs {
		if _, err := os.Stat(spec.Path); err != nil {
			t.Errorf("Artifact for %s not found at %s: %v", spec.Name, spec.Path, err)
		}
	}
}
