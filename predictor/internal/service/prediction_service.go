package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/features"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/registry"
	"github.com/Krimson/fetal-health-classifier/predictor/pkg/models"
)

var (
	ErrInvalidFeatures     = features.ErrInvalidFeatures
	ErrModelNotFound       = registry.ErrModelNotFound
	ErrModelNotLoaded      = registry.ErrModelNotLoaded
	ErrNoModelAvailable    = registry.ErrNoModelAvailable
	ErrUnexpectedClassCode = errors.New("unexpected class code")
)

// Таблица код -> статус фиксирована обучающими данными
var healthStatusByCode = map[float64]string{
	1.0: "Normal",
	2.0: "Suspect",
	3.0: "Pathological",
}

// HealthStatusFor переводит код класса в статус
func HealthStatusFor(code float64) (string, error) {
	status, ok := healthStatusByCode[code]
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrUnexpectedClassCode, code)
	}
	return status, nil
}

// BatchItemError - ошибка элемента батча; весь батч отклоняется
type BatchItemError struct {
	Index int
	Err   error
}

func (e *BatchItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *BatchItemError) Unwrap() error {
	return e.Err
}

const (
	DefaultMaxBatchSize = 1000
	confidencePrecision = 100
)

type Options struct {
	MaxBatchSize int
	BatchWorkers int
}

// Event - успешно выданное предсказание
type Event struct {
	RequestID string
	Features  []float64
	Result    models.PredictionResult
	Cached    bool
	Duration  time.Duration
	Timestamp time.Time
}

// Observer получает каждое выданное предсказание (аудит, лента, метрики).
// Вызывается синхронно, реализация не должна блокироваться.
type Observer interface {
	PredictionServed(ctx context.Context, event Event)
}

// FailureObserver - опциональное расширение Observer для ошибок
type FailureObserver interface {
	PredictionFailed(ctx context.Context, model string, err error)
}

// Cache - кэш результатов по (модель, ревизия артефакта, вектор признаков)
type Cache interface {
	Get(ctx context.Context, model, revision string, x []float64) (models.PredictionResult, bool)
	Set(ctx context.Context, model, revision string, x []float64, result models.PredictionResult)
}

// outcome - посчитанное, но еще не выданное предсказание
type outcome struct {
	x        []float64
	result   models.PredictionResult
	cached   bool
	duration time.Duration
}

type PredictionService struct {
	registry  *registry.Registry
	opts      Options
	cache     Cache
	observers []Observer
	logger    *zap.SugaredLogger
}

func NewPredictionService(reg *registry.Registry, opts Options, logger *zap.SugaredLogger) *PredictionService {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.BatchWorkers <= 0 {
		opts.BatchWorkers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &PredictionService{
		registry: reg,
		opts:     opts,
		logger:   logger,
	}
}

// UseCache подключает кэш результатов. Вызывать до начала обслуживания.
func (s *PredictionService) UseCache(c Cache) {
	s.cache = c
}

// AddObserver подписывает наблюдателя. Вызывать до начала обслуживания.
func (s *PredictionService) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// PredictOne классифицирует одну запись
func (s *PredictionService) PredictOne(ctx context.Context, fv features.FeatureVector, modelName *string) (models.PredictionResult, error) {
	entry, err := s.resolve(modelName)
	if err != nil {
		s.failed(ctx, modelName, err)
		return models.PredictionResult{}, err
	}

	x, err := features.Vector(fv)
	if err != nil {
		s.failed(ctx, modelName, err)
		return models.PredictionResult{}, err
	}

	out, err := s.compute(ctx, entry, x)
	if err != nil {
		s.failed(ctx, modelName, err)
		return models.PredictionResult{}, err
	}
	s.commit(ctx, entry, out)
	return out.result, nil
}

// PredictBatch классифицирует последовательность записей одной моделью.
// Первый невалидный элемент отклоняет весь батч (BatchItemError с индексом).
// Порядок результатов совпадает с порядком входа. Кэш и наблюдатели видят
// элементы только после успеха всего батча.
func (s *PredictionService) PredictBatch(ctx context.Context, fvs []features.FeatureVector, modelName *string) ([]models.PredictionResult, error) {
	if len(fvs) == 0 {
		err := fmt.Errorf("%w: features_list must contain at least one item", ErrInvalidFeatures)
		s.failed(ctx, modelName, err)
		return nil, err
	}
	if len(fvs) > s.opts.MaxBatchSize {
		err := fmt.Errorf("%w: batch of %d exceeds limit %d", ErrInvalidFeatures, len(fvs), s.opts.MaxBatchSize)
		s.failed(ctx, modelName, err)
		return nil, err
	}

	entry, err := s.resolve(modelName)
	if err != nil {
		s.failed(ctx, modelName, err)
		return nil, err
	}

	// Валидация всего батча до первого вызова модели
	vectors := make([][]float64, len(fvs))
	for i, fv := range fvs {
		x, err := features.Vector(fv)
		if err != nil {
			itemErr := &BatchItemError{Index: i, Err: err}
			s.failed(ctx, modelName, itemErr)
			return nil, itemErr
		}
		vectors[i] = x
	}

	outcomes := make([]outcome, len(vectors))
	errs := make([]error, len(vectors))

	var g errgroup.Group
	g.SetLimit(s.opts.BatchWorkers)
	for i := range vectors {
		g.Go(func() error {
			outcomes[i], errs[i] = s.compute(ctx, entry, vectors[i])
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		s.failed(ctx, modelName, err)
		return nil, err
	}

	// Все элементы досчитываются, поэтому в ошибке всегда минимальный индекс
	for i, err := range errs {
		if err != nil {
			itemErr := &BatchItemError{Index: i, Err: err}
			s.failed(ctx, modelName, itemErr)
			return nil, itemErr
		}
	}

	results := make([]models.PredictionResult, len(outcomes))
	for i, out := range outcomes {
		s.commit(ctx, entry, out)
		results[i] = out.result
	}
	return results, nil
}

// Reject учитывает запрос, отклоненный транспортом до вызова сервиса
// (тело не разобрано, значения не числа)
func (s *PredictionService) Reject(ctx context.Context, modelName *string, err error) {
	s.failed(ctx, modelName, err)
}

// HealthSummary - состояние сервиса по реестру
func (s *PredictionService) HealthSummary() models.HealthStatus {
	loaded := s.registry.Loaded()
	total := s.registry.Len()

	switch {
	case len(loaded) == 0:
		return models.HealthStatus{
			Status:       models.StatusUnavailable,
			Message:      "No models loaded",
			ModelsLoaded: []string{},
		}
	case len(loaded) == total:
		return models.HealthStatus{
			Status:       models.StatusHealthy,
			Message:      "All systems operational",
			ModelsLoaded: loaded,
		}
	default:
		return models.HealthStatus{
			Status:       models.StatusHealthy,
			Message:      fmt.Sprintf("%d of %d models loaded", len(loaded), total),
			ModelsLoaded: loaded,
		}
	}
}

// ListModels - метаданные моделей реестра
func (s *PredictionService) ListModels() []registry.ModelInfo {
	return s.registry.List()
}

// IsReady - есть хотя бы одна загруженная модель
func (s *PredictionService) IsReady() bool {
	return s.registry.IsReady()
}

func (s *PredictionService) resolve(modelName *string) (*registry.ModelEntry, error) {
	var name string
	if modelName != nil {
		name = *modelName
	}

	if name == "" {
		defaultName, err := s.registry.DefaultName()
		if err != nil {
			return nil, err
		}
		name = defaultName
	}

	entry, err := s.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if !entry.Loaded {
		return nil, fmt.Errorf("%w: %s", ErrModelNotLoaded, name)
	}
	return entry, nil
}

// compute считает результат без побочных эффектов
func (s *PredictionService) compute(ctx context.Context, entry *registry.ModelEntry, x []float64) (outcome, error) {
	start := time.Now()

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, entry.Name, entry.Revision, x); ok {
			return outcome{x: x, result: cached, cached: true, duration: time.Since(start)}, nil
		}
	}

	inf, err := entry.Infer(x)
	if err != nil {
		return outcome{}, err
	}

	result, err := buildResult(entry, inf)
	if err != nil {
		s.logger.Errorw("Model returned class outside the label table",
			"model", entry.Name, "code", inf.Code)
		return outcome{}, err
	}
	return outcome{x: x, result: result, duration: time.Since(start)}, nil
}

// commit сохраняет результат в кэш и оповещает наблюдателей
func (s *PredictionService) commit(ctx context.Context, entry *registry.ModelEntry, out outcome) {
	if s.cache != nil && !out.cached {
		s.cache.Set(ctx, entry.Name, entry.Revision, out.x, out.result)
	}
	s.served(ctx, out)
}

func buildResult(entry *registry.ModelEntry, inf registry.Inference) (models.PredictionResult, error) {
	status, err := HealthStatusFor(inf.Code)
	if err != nil {
		return models.PredictionResult{}, fmt.Errorf("model %s: %w", entry.Name, err)
	}

	result := models.PredictionResult{
		PredictionCode: inf.Code,
		HealthStatus:   status,
		ModelUsed:      entry.Name,
	}

	if p, ok := inf.ProbabilityOf(inf.Code); ok {
		result.Confidence = roundConfidence(p)
		result.ConfidenceSource = models.ConfidenceFromModel
	} else {
		result.Confidence = entry.FallbackConfidence
		result.ConfidenceSource = models.ConfidenceFromFallback
	}
	return result, nil
}

func roundConfidence(p float64) float64 {
	p = math.Round(p*confidencePrecision) / confidencePrecision
	return math.Max(0, math.Min(1, p))
}

func (s *PredictionService) served(ctx context.Context, out outcome) {
	if len(s.observers) == 0 {
		return
	}

	event := Event{
		RequestID: RequestIDFrom(ctx),
		Features:  out.x,
		Result:    out.result,
		Cached:    out.cached,
		Duration:  out.duration,
		Timestamp: time.Now(),
	}
	for _, o := range s.observers {
		o.PredictionServed(ctx, event)
	}
}

func (s *PredictionService) failed(ctx context.Context, modelName *string, err error) {
	name := ""
	if modelName != nil {
		name = *modelName
	}
	for _, o := range s.observers {
		if fo, ok := o.(FailureObserver); ok {
			fo.PredictionFailed(ctx, name, err)
		}
	}
}
