package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Record - одна запись журнала предсказаний
type Record struct {
	ID               string          `json:"id"`
	RequestID        string          `json:"request_id,omitempty"`
	Model            string          `json:"model"`
	PredictionCode   float64         `json:"prediction_code"`
	HealthStatus     string          `json:"health_status"`
	Confidence       float64         `json:"confidence"`
	ConfidenceSource string          `json:"confidence_source"`
	Cached           bool            `json:"cached"`
	Features         json.RawMessage `json:"features"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Batch - пачка записей, отдаваемая в Sink
type Batch struct {
	Records []Record
	T0      time.Time // время первой записи
	T1      time.Time // время последней записи
}

// Sink обрабатывает готовые пачки
type Sink interface {
	Consume(ctx context.Context, b Batch) error
}

// LogSink пишет пачки в лог
type LogSink struct {
	Logger *zap.SugaredLogger
}

func (ls *LogSink) Consume(ctx context.Context, b Batch) error {
	models := make(map[string]int)
	for _, r := range b.Records {
		models[r.Model]++
	}

	ls.Logger.Infow("Audit batch",
		"records", len(b.Records),
		"span", b.T1.Sub(b.T0),
		"by_model", models)
	return nil
}
