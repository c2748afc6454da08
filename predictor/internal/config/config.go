package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/registry"
)

// Config содержит все настройки приложения
type Config struct {
	HTTPPort string
	GRPCPort string

	// Models
	ModelsManifest string
	ModelsDir      string
	DefaultModel   string

	// Batch settings
	MaxBatchSize int
	BatchWorkers int

	// Cache settings
	CacheSize       int
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CacheTTLSeconds int

	// Audit settings
	AuditDriver          string
	AuditDSN             string
	AuditBatchSize       int
	AuditFlushIntervalMS int64

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	ONNXLibraryPath string
}

// Load загружает конфигурацию из переменных окружения с дефолтными значениями
func Load() *Config {
	return &Config{
		HTTPPort: getEnvString("HTTP_PORT", "8000"),
		GRPCPort: getEnvString("GRPC_PORT", "50051"),

		ModelsManifest: getEnvString("MODELS_MANIFEST", ""),
		ModelsDir:      getEnvString("MODELS_DIR", "models"),
		DefaultModel:   getEnvString("DEFAULT_MODEL", "gradient_boosting"),

		MaxBatchSize: getEnvInt("MAX_BATCH_SIZE", 1000),
		BatchWorkers: getEnvInt("BATCH_WORKERS", 4),

		CacheSize:       getEnvInt("CACHE_SIZE", 1024),
		RedisAddr:       getEnvString("REDIS_ADDR", ""),
		RedisPassword:   getEnvString("REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		CacheTTLSeconds: getEnvInt("CACHE_TTL_SECONDS", 3600),

		AuditDriver:          getEnvString("AUDIT_DRIVER", "log"),
		AuditDSN:             getEnvString("AUDIT_DSN", ""),
		AuditBatchSize:       getEnvInt("AUDIT_BATCH_SIZE", 100),
		AuditFlushIntervalMS: getEnvInt64("AUDIT_FLUSH_INTERVAL_MS", 2000),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "json"),
		LogFile:   getEnvString("LOG_FILE", ""),

		ONNXLibraryPath: getEnvString("ONNX_LIBRARY_PATH", ""),
	}
}

// Validate проверяет значения, которые нельзя молча заменить дефолтом
func (c *Config) Validate() error {
	switch c.AuditDriver {
	case "", "none", "log":
	case "postgres", "sqlite", "jsonl":
		if c.AuditDSN == "" {
			return fmt.Errorf("AUDIT_DSN is required for audit driver %s", c.AuditDriver)
		}
	default:
		return fmt.Errorf("unsupported AUDIT_DRIVER: %s", c.AuditDriver)
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT: %s", c.LogFormat)
	}

	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive, got %d", c.MaxBatchSize)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("CACHE_SIZE must not be negative, got %d", c.CacheSize)
	}
	return nil
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) AuditFlushInterval() time.Duration {
	return time.Duration(c.AuditFlushIntervalMS) * time.Millisecond
}

// Manifest - YAML описание моделей
type Manifest struct {
	DefaultModel string          `yaml:"default_model"`
	Models       []ManifestModel `yaml:"models"`
}

type ManifestModel struct {
	Name               string  `yaml:"name"`
	Path               string  `yaml:"path"`
	Type               string  `yaml:"type"`
	FallbackConfidence float64 `yaml:"fallback_confidence"`
}

// LoadManifest читает манифест; относительные пути считаются от каталога манифеста
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.UnmarshalStrict(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	for i, model := range m.Models {
		if model.Name == "" {
			return nil, fmt.Errorf("manifest %s: model %d has no name", path, i)
		}
		if model.Path == "" {
			return nil, fmt.Errorf("manifest %s: model %s has no path", path, model.Name)
		}
		if model.FallbackConfidence < 0 || model.FallbackConfidence > 1 {
			return nil, fmt.Errorf("manifest %s: model %s fallback_confidence must be within [0, 1]", path, model.Name)
		}
		if !filepath.IsAbs(model.Path) {
			m.Models[i].Path = filepath.Join(baseDir, model.Path)
		}
	}
	return &m, nil
}

// ModelSpecs возвращает список моделей для реестра и имя модели по умолчанию.
// DEFAULT_MODEL из окружения приоритетнее манифеста.
func (c *Config) ModelSpecs() ([]registry.ModelSpec, string, error) {
	defaultModel := c.DefaultModel

	if c.ModelsManifest == "" {
		return []registry.ModelSpec{
			{Name: "decision_tree", Path: filepath.Join(c.ModelsDir, "decision_tree_model.json")},
			{Name: "gradient_boosting", Path: filepath.Join(c.ModelsDir, "gradient_boosting_model.json")},
		}, defaultModel, nil
	}

	m, err := LoadManifest(c.ModelsManifest)
	if err != nil {
		return nil, "", err
	}

	if os.Getenv("DEFAULT_MODEL") == "" && m.DefaultModel != "" {
		defaultModel = m.DefaultModel
	}

	specs := make([]registry.ModelSpec, 0, len(m.Models))
	for _, model := range m.Models {
		specs = append(specs, registry.ModelSpec{
			Name:               model.Name,
			Path:               model.Path,
			Type:               model.Type,
			FallbackConfidence: model.FallbackConfidence,
		})
	}
	return specs, defaultModel, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
