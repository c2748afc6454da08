package models

import (
	"encoding/json"
	"time"
)

// PredictRequest - тело POST /predict.
// features разбирается отдельно, чтобы отличать отсутствующие и нечисловые значения.
type PredictRequest struct {
	Features  json.RawMessage `json:"features" swaggertype:"object"`
	ModelName *string         `json:"model_name,omitempty" example:"gradient_boosting"`
}

// BatchPredictRequest - тело POST /predict/batch
type BatchPredictRequest struct {
	FeaturesList []json.RawMessage `json:"features_list" swaggertype:"array,object"`
	ModelName    *string           `json:"model_name,omitempty" example:"gradient_boosting"`
}

const (
	ConfidenceFromModel    = "model"
	ConfidenceFromFallback = "fallback"
)

type PredictionResult struct {
	PredictionCode   float64 `json:"prediction_code" example:"1"`
	HealthStatus     string  `json:"health_status" example:"Normal"`
	ModelUsed        string  `json:"model_used" example:"gradient_boosting"`
	Confidence       float64 `json:"confidence" example:"0.88"`
	ConfidenceSource string  `json:"confidence_source" example:"model"`
}

type BatchPredictResponse struct {
	Predictions []PredictionResult `json:"predictions"`
}

const (
	StatusHealthy     = "healthy"
	StatusUnavailable = "unavailable"
)

type HealthStatus struct {
	Status       string   `json:"status" example:"healthy"`
	Message      string   `json:"message" example:"All systems operational"`
	ModelsLoaded []string `json:"models_loaded"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Status  int    `json:"status"`
	Index   *int   `json:"index,omitempty"`
}

// PredictionEvent - сообщение live-ленты предсказаний
type PredictionEvent struct {
	RequestID      string    `json:"request_id"`
	ModelUsed      string    `json:"model_used"`
	PredictionCode float64   `json:"prediction_code"`
	HealthStatus   string    `json:"health_status"`
	Confidence     float64   `json:"confidence"`
	Timestamp      time.Time `json:"timestamp"`
}
