package registry

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/classifier"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/features"
)

var (
	ErrModelNotFound    = errors.New("model not found")
	ErrModelNotLoaded   = errors.New("model not loaded")
	ErrNoModelAvailable = errors.New("no model available")
)

const (
	// DefaultFallbackConfidence - равномерный априор по трем классам
	DefaultFallbackConfidence = 0.33

	unknownType = "unknown"
)

// ModelSpec описывает модель из манифеста
type ModelSpec struct {
	Name               string
	Path               string
	Type               string
	FallbackConfidence float64
}

// ModelInfo - метаданные модели для /models (без самой модели)
type ModelInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Loaded   bool   `json:"loaded"`
	FilePath string `json:"file_path"`
	Revision string `json:"revision,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Inference - результат одного вызова модели
type Inference struct {
	Code          float64
	Classes       []float64
	Probabilities []float64 // nil, если модель не отдает вероятности
}

// ProbabilityOf возвращает вероятность класса code
func (inf Inference) ProbabilityOf(code float64) (float64, bool) {
	if inf.Probabilities == nil {
		return 0, false
	}
	for i, c := range inf.Classes {
		if c == code && i < len(inf.Probabilities) {
			return inf.Probabilities[i], true
		}
	}
	return 0, false
}

// ModelEntry - запись реестра. После LoadAll не изменяется.
type ModelEntry struct {
	Name               string
	ModelType          string
	FilePath           string
	Loaded             bool
	LoadError          string
	FallbackConfidence float64
	// Revision - отпечаток содержимого артефакта и fallback_confidence
	Revision           string

	model *classifier.Model
	// mu берется только для моделей, которые нельзя вызывать конкурентно
	mu sync.Mutex
}

// Info возвращает метаданные записи
func (e *ModelEntry) Info() ModelInfo {
	return ModelInfo{
		Name:     e.Name,
		Type:     e.ModelType,
		Loaded:   e.Loaded,
		FilePath: e.FilePath,
		Revision: e.Revision,
		Error:    e.LoadError,
	}
}

// Infer запускает модель на упорядоченном векторе признаков
func (e *ModelEntry) Infer(x []float64) (Inference, error) {
	if !e.Loaded {
		return Inference{}, fmt.Errorf("%w: %s", ErrModelNotLoaded, e.Name)
	}

	if e.model.RequiresExclusiveAccess() {
		e.mu.Lock()
		defer e.mu.Unlock()
	}

	code, err := e.model.Predict(x)
	if err != nil {
		return Inference{}, fmt.Errorf("model %s: %w", e.Name, err)
	}

	inf := Inference{Code: code, Classes: e.model.Classes()}
	if e.model.HasProbabilities() {
		proba, err := e.model.PredictProba(x)
		if err != nil {
			return Inference{}, fmt.Errorf("model %s: %w", e.Name, err)
		}
		inf.Probabilities = proba
	}
	return inf, nil
}

// Registry - реестр моделей. Собирается один раз при старте и дальше только читается.
type Registry struct {
	entries   map[string]*ModelEntry
	order     []string
	preferred string

	defaultName string
	defaultErr  error
}

// LoadAll загружает модели по списку. Ошибка загрузки одной модели фиксируется
// в ее записи и не мешает остальным.
func LoadAll(preferredDefault string, specs []ModelSpec, logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	r := &Registry{
		entries:   make(map[string]*ModelEntry, len(specs)),
		order:     make([]string, 0, len(specs)),
		preferred: preferredDefault,
	}

	for _, spec := range specs {
		if _, dup := r.entries[spec.Name]; dup {
			logger.Warnw("Duplicate model name in manifest, keeping first", "model", spec.Name, "path", spec.Path)
			continue
		}

		entry := loadEntry(spec)
		if entry.Loaded {
			logger.Infow("Model loaded", "model", entry.Name, "type", entry.ModelType, "path", entry.FilePath)
		} else {
			logger.Errorw("Failed to load model", "model", entry.Name, "path", entry.FilePath, "error", entry.LoadError)
		}

		r.entries[spec.Name] = entry
		r.order = append(r.order, spec.Name)
	}

	r.defaultName, r.defaultErr = r.resolveDefault()
	if r.defaultErr != nil {
		logger.Warnw("No default model available", "preferred", preferredDefault)
	} else if r.defaultName != preferredDefault {
		logger.Warnw("Preferred default model unavailable, using fallback",
			"preferred", preferredDefault, "fallback", r.defaultName)
	}

	return r
}

func loadEntry(spec ModelSpec) *ModelEntry {
	entry := &ModelEntry{
		Name:               spec.Name,
		ModelType:          spec.Type,
		FilePath:           spec.Path,
		FallbackConfidence: spec.FallbackConfidence,
	}
	if entry.FallbackConfidence <= 0 || entry.FallbackConfidence > 1 {
		entry.FallbackConfidence = DefaultFallbackConfidence
	}
	if entry.ModelType == "" {
		entry.ModelType = unknownType
	}

	model, digest, err := loadModel(spec)
	if err != nil {
		entry.LoadError = err.Error()
		return entry
	}

	entry.model = model
	entry.Revision = revision(digest, entry.FallbackConfidence)
	entry.ModelType = model.Type()
	entry.Loaded = true
	return entry
}

func loadModel(spec ModelSpec) (*classifier.Model, []byte, error) {
	data, err := os.ReadFile(spec.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open artifact: %w", err)
	}

	model, err := classifier.Decode(bytes.NewReader(data), features.Count(), filepath.Dir(spec.Path))
	if err != nil {
		return nil, nil, err
	}

	if spec.Type != "" && spec.Type != model.Type() {
		model.Close()
		return nil, nil, fmt.Errorf("artifact type %q does not match declared type %q", model.Type(), spec.Type)
	}
	return model, data, nil
}

// revision: первые 16 hex-символов sha256 артефакта и fallback_confidence
func revision(artifact []byte, fallback float64) string {
	h := sha256.New()
	h.Write(artifact)
	h.Write([]byte("\nfallback_confidence=" + strconv.FormatFloat(fallback, 'g', -1, 64)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// resolveDefault: предпочтительная модель, если загружена, иначе первая
// загруженная в порядке объявления.
func (r *Registry) resolveDefault() (string, error) {
	if e, ok := r.entries[r.preferred]; ok && e.Loaded {
		return e.Name, nil
	}
	for _, name := range r.order {
		if r.entries[name].Loaded {
			return name, nil
		}
	}
	return "", ErrNoModelAvailable
}

// Get возвращает запись по имени (в том числе незагруженную)
func (r *Registry) Get(name string) (*ModelEntry, error) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return entry, nil
}

// List возвращает метаданные всех моделей в порядке объявления
func (r *Registry) List() []ModelInfo {
	infos := make([]ModelInfo, 0, len(r.order))
	for _, name := range r.order {
		infos = append(infos, r.entries[name].Info())
	}
	return infos
}

// Loaded возвращает имена загруженных моделей в порядке объявления
func (r *Registry) Loaded() []string {
	names := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if r.entries[name].Loaded {
			names = append(names, name)
		}
	}
	return names
}

// Names возвращает имена всех моделей в порядке объявления
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len - число объявленных моделей
func (r *Registry) Len() int {
	return len(r.order)
}

// IsReady - загружена хотя бы одна модель
func (r *Registry) IsReady() bool {
	return r.defaultErr == nil
}

// DefaultName возвращает модель по умолчанию с учетом правила подмены
func (r *Registry) DefaultName() (string, error) {
	return r.defaultName, r.defaultErr
}

// PreferredDefault - имя модели по умолчанию из конфигурации
func (r *Registry) PreferredDefault() string {
	return r.preferred
}

// Close освобождает ресурсы моделей
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.order {
		if e := r.entries[name]; e.Loaded {
			if err := e.model.Close(); err != nil {
				errs = append(errs, fmt.Errorf("model %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
