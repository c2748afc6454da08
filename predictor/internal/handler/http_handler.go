package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/audit"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/features"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/service"
	"github.com/Krimson/fetal-health-classifier/predictor/pkg/models"
)

const (
	maxBodyBytes       = 8 << 20
	defaultRecentLimit = 20
	maxRecentLimit     = 500
)

// RecentSource отдает последние записи журнала предсказаний
type RecentSource interface {
	Recent(ctx context.Context, limit int) ([]audit.Record, error)
}

type HTTPHandler struct {
	predictionService *service.PredictionService
	recent            RecentSource
	logger            *zap.SugaredLogger
}

func NewHTTPHandler(predictionService *service.PredictionService, logger *zap.SugaredLogger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HTTPHandler{
		predictionService: predictionService,
		logger:            logger,
	}
}

// UseRecent подключает журнал для GET /predictions/recent
func (h *HTTPHandler) UseRecent(source RecentSource) {
	h.recent = source
}

// Health возвращает состояние сервиса
// @Summary Состояние сервиса
// @Description Возвращает статус и список загруженных моделей. 503, если не загружена ни одна модель.
// @Tags Service
// @Produce json
// @Success 200 {object} models.HealthStatus "Сервис готов"
// @Failure 503 {object} models.HealthStatus "Нет загруженных моделей"
// @Router /health [get]
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	summary := h.predictionService.HealthSummary()

	code := http.StatusOK
	if summary.Status != models.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, summary)
}

// ListModels возвращает метаданные всех моделей
// @Summary Список моделей
// @Description Возвращает все модели из манифеста в порядке объявления, включая незагруженные с текстом ошибки
// @Tags Models
// @Produce json
// @Success 200 {array} registry.ModelInfo "Модели"
// @Router /models [get]
func (h *HTTPHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.predictionService.ListModels())
}

// Predict классифицирует одну КТГ запись
// @Summary Предсказание для одной записи
// @Description Проверяет признаки, выбирает модель (по умолчанию gradient_boosting) и возвращает статус плода с уверенностью
// @Tags Prediction
// @Accept json
// @Produce json
// @Param X-Request-ID header string false "ID запроса (генерируется автоматически если не указан)"
// @Param request body models.PredictRequest true "Признаки и имя модели"
// @Success 200 {object} models.PredictionResult "Результат предсказания"
// @Failure 400 {object} models.ErrorResponse "Неверные признаки"
// @Failure 404 {object} models.ErrorResponse "Модель не найдена"
// @Failure 503 {object} models.ErrorResponse "Модель не загружена"
// @Failure 500 {object} models.ErrorResponse "Ошибка предсказания"
// @Router /predict [post]
func (h *HTTPHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var req models.PredictRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.reject(w, r, nil, err)
		return
	}

	fv, err := features.ParseJSON(req.Features)
	if err != nil {
		h.reject(w, r, req.ModelName, err)
		return
	}

	result, err := h.predictionService.PredictOne(r.Context(), fv, req.ModelName)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// PredictBatch классифицирует пачку записей одной моделью
// @Summary Пакетное предсказание
// @Description Все записи проверяются до инференса. Первая невалидная запись отклоняет весь запрос, ее индекс возвращается в поле index.
// @Tags Prediction
// @Accept json
// @Produce json
// @Param X-Request-ID header string false "ID запроса (генерируется автоматически если не указан)"
// @Param request body models.BatchPredictRequest true "Список признаков и имя модели"
// @Success 200 {object} models.BatchPredictResponse "Результаты в порядке входа"
// @Failure 400 {object} models.ErrorResponse "Неверные признаки"
// @Failure 404 {object} models.ErrorResponse "Модель не найдена"
// @Failure 503 {object} models.ErrorResponse "Модель не загружена"
// @Failure 500 {object} models.ErrorResponse "Ошибка предсказания"
// @Router /predict/batch [post]
func (h *HTTPHandler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchPredictRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.reject(w, r, nil, err)
		return
	}

	fvs := make([]features.FeatureVector, len(req.FeaturesList))
	for i, raw := range req.FeaturesList {
		fv, err := features.ParseJSON(raw)
		if err != nil {
			h.reject(w, r, req.ModelName, &service.BatchItemError{Index: i, Err: err})
			return
		}
		fvs[i] = fv
	}

	results, err := h.predictionService.PredictBatch(r.Context(), fvs, req.ModelName)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.BatchPredictResponse{Predictions: results})
}

// RecentPredictions возвращает последние записи журнала
// @Summary Последние предсказания
// @Description Читает журнал предсказаний (доступно при AUDIT_DRIVER=postgres или sqlite)
// @Tags Prediction
// @Produce json
// @Param limit query int false "Количество записей (по умолчанию 20, максимум 500)"
// @Success 200 {array} audit.Record "Записи, новые первыми"
// @Failure 400 {object} models.ErrorResponse "Неверный limit"
// @Failure 404 {object} models.ErrorResponse "Журнал не настроен"
// @Failure 500 {object} models.ErrorResponse "Ошибка чтения журнала"
// @Router /predictions/recent [get]
func (h *HTTPHandler) RecentPredictions(w http.ResponseWriter, r *http.Request) {
	if h.recent == nil {
		respondJSON(w, http.StatusNotFound, models.ErrorResponse{
			Error:   "Audit trail disabled",
			Details: "set AUDIT_DRIVER to postgres or sqlite",
			Status:  http.StatusNotFound,
		})
		return
	}

	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRecentLimit {
			respondJSON(w, http.StatusBadRequest, models.ErrorResponse{
				Error:   "Invalid limit",
				Details: fmt.Sprintf("limit must be an integer within [1, %d]", maxRecentLimit),
				Status:  http.StatusBadRequest,
			})
			return
		}
		limit = n
	}

	records, err := h.recent.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Errorw("Failed to read audit trail", "limit", limit, "error", err)
		respondJSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Error:   "Failed to read audit trail",
			Details: err.Error(),
			Status:  http.StatusInternalServerError,
		})
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// errMalformedBody - тело запроса не разобрано как JSON
var errMalformedBody = fmt.Errorf("%w: malformed request body", features.ErrInvalidFeatures)

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return nil
}

// reject отвечает на ошибку разбора запроса и учитывает ее в сервисе
func (h *HTTPHandler) reject(w http.ResponseWriter, r *http.Request, modelName *string, err error) {
	h.predictionService.Reject(r.Context(), modelName, err)
	h.respondError(w, r, err)
}

// statusFor - единая таблица ошибка -> HTTP статус
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidFeatures):
		return http.StatusBadRequest, "Invalid features"
	case errors.Is(err, service.ErrModelNotFound):
		return http.StatusNotFound, "Model not found"
	case errors.Is(err, service.ErrModelNotLoaded):
		return http.StatusServiceUnavailable, "Model not loaded"
	case errors.Is(err, service.ErrNoModelAvailable):
		return http.StatusServiceUnavailable, "No model available"
	default:
		return http.StatusInternalServerError, "Prediction failed"
	}
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code, message := statusFor(err)

	resp := models.ErrorResponse{
		Error:   message,
		Details: err.Error(),
		Status:  code,
	}

	var itemErr *service.BatchItemError
	if errors.As(err, &itemErr) {
		index := itemErr.Index
		resp.Index = &index
	}

	if code >= http.StatusInternalServerError {
		h.logger.Errorw("Request failed",
			"path", r.URL.Path,
			"request_id", service.RequestIDFrom(r.Context()),
			"status", code,
			"error", err)
	}
	respondJSON(w, code, resp)
}

func respondJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
