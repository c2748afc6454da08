package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

var (
	ErrNoProbabilities      = errors.New("model does not expose class probabilities")
	ErrUnsupportedType      = errors.New("unsupported model type")
	ErrInvalidArtifact      = errors.New("invalid model artifact")
	ErrFeatureCountMismatch = errors.New("feature count mismatch")
)

// Classifier - минимальная возможность обученной модели: вектор признаков -> код класса
type Classifier interface {
	Predict(x []float64) (float64, error)
}

// ProbabilityEstimator реализуют модели, умеющие вернуть распределение по классам.
// Вероятности выровнены по Classes().
type ProbabilityEstimator interface {
	PredictProba(x []float64) ([]float64, error)
	Classes() []float64
}

// Exclusive реализуют модели, которые нельзя вызывать конкурентно (общие буферы инференса)
type Exclusive interface {
	RequiresExclusiveAccess() bool
}

// Spec - разобранный артефакт, передаваемый фабрике конкретного типа модели
type Spec struct {
	Classes     []float64
	NumFeatures int
	BaseDir     string
	Params      json.RawMessage
}

// Factory строит модель конкретного типа из параметров артефакта
type Factory func(spec Spec) (Classifier, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{
		TypeDecisionTree:     newDecisionTree,
		TypeGradientBoosting: newGradientBoosting,
		TypeNearestCentroid:  newNearestCentroid,
	}
)

const (
	TypeDecisionTree     = "decision_tree"
	TypeGradientBoosting = "gradient_boosting"
	TypeNearestCentroid  = "nearest_centroid"
)

// Register регистрирует фабрику для дополнительного типа модели (например, onnx).
// Повторная регистрация того же типа - ошибка программиста.
func Register(modelType string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if factory == nil {
		panic("classifier: Register factory is nil")
	}
	if _, dup := factories[modelType]; dup {
		panic("classifier: Register called twice for type " + modelType)
	}
	factories[modelType] = factory
}

// Types возвращает зарегистрированные типы моделей
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Artifact - сериализованная модель на диске
type Artifact struct {
	ModelType string          `json:"model_type"`
	Classes   []float64       `json:"classes"`
	Scaler    *Scaler         `json:"scaler,omitempty"`
	Model     json.RawMessage `json:"model"`
}

// Scaler - стандартизация признаков (x - mean) / scale, применяемая до инференса
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *Scaler) validate(n int) error {
	if len(s.Mean) != n || len(s.Scale) != n {
		return fmt.Errorf("%w: scaler expects %d values, got mean=%d scale=%d",
			ErrInvalidArtifact, n, len(s.Mean), len(s.Scale))
	}
	for i, v := range s.Scale {
		if v == 0 {
			return fmt.Errorf("%w: scaler scale[%d] is zero", ErrInvalidArtifact, i)
		}
	}
	return nil
}

func (s *Scaler) transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = (v - s.Mean[i]) / s.Scale[i]
	}
	return out
}

// Model - загруженная модель: тип, классы, опциональный scaler и реализация
type Model struct {
	modelType   string
	classes     []float64
	numFeatures int
	scaler      *Scaler
	impl        Classifier
}

// Decode читает артефакт и строит модель. baseDir используется для артефактов,
// ссылающихся на внешние файлы.
func Decode(r io.Reader, numFeatures int, baseDir string) (*Model, error) {
	var artifact Artifact
	if err := json.NewDecoder(r).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	return Build(artifact, numFeatures, baseDir)
}

// Build строит модель из уже разобранного артефакта
func Build(artifact Artifact, numFeatures int, baseDir string) (*Model, error) {
	if artifact.ModelType == "" {
		return nil, fmt.Errorf("%w: model_type is required", ErrInvalidArtifact)
	}
	if len(artifact.Classes) == 0 {
		return nil, fmt.Errorf("%w: classes are required", ErrInvalidArtifact)
	}
	if artifact.Scaler != nil {
		if err := artifact.Scaler.validate(numFeatures); err != nil {
			return nil, err
		}
	}

	factoriesMu.RLock()
	factory, ok := factories[artifact.ModelType]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, artifact.ModelType)
	}

	impl, err := factory(Spec{
		Classes:     artifact.Classes,
		NumFeatures: numFeatures,
		BaseDir:     baseDir,
		Params:      artifact.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build %s model: %w", artifact.ModelType, err)
	}

	return &Model{
		modelType:   artifact.ModelType,
		classes:     append([]float64(nil), artifact.Classes...),
		numFeatures: numFeatures,
		scaler:      artifact.Scaler,
		impl:        impl,
	}, nil
}

// Type возвращает тип модели из артефакта
func (m *Model) Type() string {
	return m.modelType
}

// Classes возвращает коды классов в порядке выхода модели
func (m *Model) Classes() []float64 {
	return append([]float64(nil), m.classes...)
}

// HasProbabilities сообщает, умеет ли реализация отдавать вероятности
func (m *Model) HasProbabilities() bool {
	_, ok := m.impl.(ProbabilityEstimator)
	return ok
}

// RequiresExclusiveAccess пробрасывает признак реализации
func (m *Model) RequiresExclusiveAccess() bool {
	if ex, ok := m.impl.(Exclusive); ok {
		return ex.RequiresExclusiveAccess()
	}
	return false
}

func (m *Model) prepare(x []float64) ([]float64, error) {
	if len(x) != m.numFeatures {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrFeatureCountMismatch, m.numFeatures, len(x))
	}
	if m.scaler != nil {
		return m.scaler.transform(x), nil
	}
	return x, nil
}

func (m *Model) Predict(x []float64) (float64, error) {
	x, err := m.prepare(x)
	if err != nil {
		return 0, err
	}
	return m.impl.Predict(x)
}

func (m *Model) PredictProba(x []float64) ([]float64, error) {
	pe, ok := m.impl.(ProbabilityEstimator)
	if !ok {
		return nil, ErrNoProbabilities
	}

	x, err := m.prepare(x)
	if err != nil {
		return nil, err
	}
	return pe.PredictProba(x)
}

// Close освобождает ресурсы реализаций с нативными хендлами
func (m *Model) Close() error {
	if c, ok := m.impl.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
