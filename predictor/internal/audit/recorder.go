package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/features"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/service"
)

// Recorder превращает выданные предсказания в записи аудита
type Recorder struct {
	batcher *Batcher
	names   []string
}

func NewRecorder(batcher *Batcher) *Recorder {
	return &Recorder{
		batcher: batcher,
		names:   features.Names(),
	}
}

func (r *Recorder) PredictionServed(ctx context.Context, e service.Event) {
	fv := make(map[string]float64, len(e.Features))
	for i, v := range e.Features {
		if i < len(r.names) {
			fv[r.names[i]] = v
		}
	}
	featuresJSON, err := json.Marshal(fv)
	if err != nil {
		featuresJSON = []byte("{}")
	}

	r.batcher.Add(Record{
		ID:               uuid.New().String(),
		RequestID:        e.RequestID,
		Model:            e.Result.ModelUsed,
		PredictionCode:   e.Result.PredictionCode,
		HealthStatus:     e.Result.HealthStatus,
		Confidence:       e.Result.Confidence,
		ConfidenceSource: e.Result.ConfidenceSource,
		Cached:           e.Cached,
		Features:         featuresJSON,
		CreatedAt:        e.Timestamp,
	})
}
