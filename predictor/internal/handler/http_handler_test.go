package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/audit"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/features"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/registry"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/service"
	"github.com/Krimson/fetal-health-classifier/predictor/pkg/models"
)

const modelsDir = "../../models"

func newTestRouter(t *testing.T, specs []registry.ModelSpec, extra Routes) (*HTTPHandler, http.Handler) {
	t.Helper()
	reg := registry.LoadAll("gradient_boosting", specs, nil)
	t.Cleanup(func() { reg.Close() })

	h := NewHTTPHandler(service.NewPredictionService(reg, service.Options{MaxBatchSize: 10}, nil), nil)
	return h, NewRouter(h, extra)
}

func shippedSpecs() []registry.ModelSpec {
	return []registry.ModelSpec{
		{Name: "decision_tree", Path: filepath.Join(modelsDir, "decision_tree_model.json"), Type: "decision_tree"},
		{Name: "gradient_boosting", Path: filepath.Join(modelsDir, "gradient_boosting_model.json"), Type: "gradient_boosting"},
		{Name: "broken", Path: filepath.Join(modelsDir, "absent.json")},
	}
}

func scenarioJSON(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(features.Example())
	if err != nil {
		t.Fatalf("Failed to marshal features: %v", err)
	}
	return raw
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	_, router := newTestRouter(t, shippedSpecs(), Routes{})

	rec := do(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var status models.HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if status.Status != models.StatusHealthy || status.Message != "2 of 3 models loaded" {
		t.Errorf("Unexpected health: %+v", status)
	}
	if len(status.ModelsLoaded) != 2 {
		t.Errorf("Expected 2 loaded models, got %v", status.ModelsLoaded)
	}
}

func TestHealth_Unavailable(t *testing.T) {
	_, router := newTestRouter(t, []registry.ModelSpec{{Name: "broken", Path: "absent.json"}}, Routes{})

	rec := do(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"models_loaded":[]`) {
		t.Errorf("Expected empty models_loaded, got %s", rec.Body.String())
	}
}

func TestListModels(t *testing.T) {
	_, router := newTestRouter(t, shippedSpecs(), Routes{})

	rec := do(t, router, http.MethodGet, "/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var infos []registry.ModelInfo
	if err := json.NewDecoder(rec.Body).Decode(&infos); err != nil {
		t.Fatalf("Failed to decode models: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 models, got %d", len(infos))
	}
	if infos[2].Name != "broken" || infos[2].Loaded || infos[2].Error == "" || infos[2].Revision != "" {
		t.Errorf("Expected broken model with error, got %+v", infos[2])
	}
	if infos[0].Revision == "" || infos[0].Revision == infos[1].Revision {
		t.Errorf("Expected distinct artifact revisions, got %q and %q", infos[0].Revision, infos[1].Revision)
	}
}

func TestPredict_Scenario(t *testing.T) {
	_, router := newTestRouter(t, shippedSpecs(), Routes{})

	req := httptest.NewRequest(http.MethodPost, "/predict",
		bytes.NewReader([]byte(`{"features":`+string(scenarioJSON(t))+`}`)))
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("Expected request id echoed, got %q", got)
	}

	var result models.PredictionResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if result.PredictionCode != 1.0 || result.HealthStatus != "Normal" || result.ModelUsed != "gradient_boosting" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if result.ConfidenceSource != models.ConfidenceFromModel || result.Confidence <= 0 || result.Confidence > 1 {
		t.Errorf("Unexpected confidence: %+v", result)
	}
}

func TestPredict_GeneratesRequestID(t *testing.T) {
	_, router := newTestRouter(t, shippedSpecs(), Routes{})

	rec := do(t, router, http.MethodGet, "/health", nil)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected generated request id")
	}
}

func TestPredict_Errors(t *testing.T) {
	_, router := newTestRouter(t, shippedSpecs(), Routes{})
	scenario := string(scenarioJSON(t))

	tests := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{"malformed json", `{"features":`, http.StatusBadRequest, "Invalid features"},
		{"missing features", `{}`, http.StatusBadRequest, "Invalid features"},
		{"string value", strings.Replace(`{"features":`+scenario+`}`, `"baseline_value":120`, `"baseline_value":"120"`, 1), http.StatusBadRequest, "Invalid features"},
		{"out of range", strings.Replace(`{"features":`+scenario+`}`, `"baseline_value":120`, `"baseline_value":400`, 1), http.StatusBadRequest, "Invalid features"},
		{"unknown model", `{"features":` + scenario + `,"model_name":"random_forest"}`, http.StatusNotFound, "Model not found"},
		{"unloaded model", `{"features":` + scenario + `,"model_name":"broken"}`, http.StatusServiceUnavailable, "Model not loaded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/predict", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			resp := decodeError(t, rec)
			if resp.Error != tt.errMsg || resp.Status != tt.status || resp.Details == "" {
				t.Errorf("Unexpected error body: %+v", resp)
			}
			if resp.Index != nil {
				t.Errorf("Single prediction must not carry index, got %d", *resp.Index)
			}
		})
	}
}

// failureCounter считает отказы, о которых узнал сервис
type failureCounter struct {
	mu   sync.Mutex
	errs []error
}

func (f *failureCounter) PredictionServed(ctx context.Context, e service.Event) {}

func (f *failureCounter) PredictionFailed(ctx context.Context, model string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func TestPredict_ParseFailuresReachService(t *testing.T) {
	h, router := newTestRouter(t, shippedSpecs(), Routes{})
	counter := &failureCounter{}
	h.predictionService.AddObserver(counter)

	scenario := string(scenarioJSON(t))
	nonNumeric := strings.Replace(scenario, `"histogram_tendency":1`, `"histogram_tendency":null`, 1)

	requests := []struct {
		path string
		body string
	}{
		{"/predict", `{"features":`},
		{"/predict", `{"features":` + nonNumeric + `}`},
		{"/predict", strings.Replace(`{"features":`+scenario+`}`, `"baseline_value":120`, `"baseline_value":400`, 1)},
		{"/predict/batch", `{"features_list":[`},
		{"/predict/batch", `{"features_list":[` + scenario + `,` + nonNumeric + `]}`},
	}
	for _, req := range requests {
		if rec := do(t, router, http.MethodPost, req.path, req.body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s %s: expected 400, got %d", req.path, req.body, rec.Code)
		}
	}

	counter.mu.Lock()
	defer counter.mu.Unlock()
	if len(counter.errs) != len(requests) {
		t.Fatalf("Expected %d failures, got %d", len(requests), len(counter.errs))
	}
	for _, err := range counter.errs {
		if !errors.Is(err, service.ErrInvalidFeatures) {
			t.Errorf("Expected ErrInvalidFeatures, got %v", err)
		}
	}
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	_, router := newTestRouter(t, shippedSpecs(), Routes{})

	rec := do(t, router, http.MethodGet, "/predict", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestPredictBatch(t *testing.T) {
	_, router := newTestRouter(t, shippedSpecs(), Routes{})
	scenario := scenarioJSON(t)

	body := models.BatchPredictRequest{FeaturesList: []json.RawMessage{scenario, scenario, scenario}}
	name := "decision_tree"
	body.ModelName = &name

	rec := do(t, router, http.MethodPost, "/predict/batch", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp models.BatchPredictResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode batch: %v", err)
	}
	if len(resp.Predictions) != 3 {
		t.Fatalf("Expected 3 predictions, got %d", len(resp.Predictions))
	}
	for i, p := range resp.Predictions {
		if p.ModelUsed != "decision_tree" || p.HealthStatus != "Normal" {
			t.Errorf("Prediction %d unexpected: %+v", i, p)
		}
	}
}

func TestPredictBatch_Errors(t *testing.T) {
	_, router := newTestRouter(t, shippedSpecs(), Routes{})
	scenario := string(scenarioJSON(t))
	outOfRange := strings.Replace(scenario, `"histogram_tendency":1`, `"histogram_tendency":5`, 1)
	nonNumeric := strings.Replace(scenario, `"histogram_tendency":1`, `"histogram_tendency":null`, 1)
	tooMany := strings.TrimSuffix(strings.Repeat(scenario+",", 11), ",")

	tests := []struct {
		name   string
		body   string
		status int
		index  int // -1 - без индекса
	}{
		{"empty list", `{"features_list":[]}`, http.StatusBadRequest, -1},
		{"missing list", `{}`, http.StatusBadRequest, -1},
		{"over limit", `{"features_list":[` + tooMany + `]}`, http.StatusBadRequest, -1},
		{"invalid item", `{"features_list":[` + scenario + `,` + outOfRange + `]}`, http.StatusBadRequest, 1},
		{"non-numeric item", `{"features_list":[` + nonNumeric + `,` + scenario + `]}`, http.StatusBadRequest, 0},
		{"unknown model", `{"features_list":[` + scenario + `],"model_name":"random_forest"}`, http.StatusNotFound, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/predict/batch", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("Expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			resp := decodeError(t, rec)
			switch {
			case tt.index < 0 && resp.Index != nil:
				t.Errorf("Expected no index, got %d", *resp.Index)
			case tt.index >= 0 && (resp.Index == nil || *resp.Index != tt.index):
				t.Errorf("Expected index %d, got %v", tt.index, resp.Index)
			}
		})
	}
}

type fakeRecent struct {
	records []audit.Record
	err     error
	limit   int
}

func (f *fakeRecent) Recent(ctx context.Context, limit int) ([]audit.Record, error) {
	f.limit = limit
	return f.records, f.err
}

func TestRecentPredictions(t *testing.T) {
	h, router := newTestRouter(t, shippedSpecs(), Routes{})

	rec := do(t, router, http.MethodGet, "/predictions/recent", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 without audit, got %d", rec.Code)
	}

	source := &fakeRecent{records: []audit.Record{{ID: "a", Model: "gradient_boosting", CreatedAt: time.Now()}}}
	h.UseRecent(source)

	rec = do(t, router, http.MethodGet, "/predictions/recent?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if source.limit != 5 {
		t.Errorf("Expected limit 5, got %d", source.limit)
	}

	var records []audit.Record
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatalf("Failed to decode records: %v", err)
	}
	if len(records) != 1 || records[0].ID != "a" {
		t.Errorf("Unexpected records: %+v", records)
	}

	for _, limit := range []string{"0", "abc", "501"} {
		rec = do(t, router, http.MethodGet, "/predictions/recent?limit="+limit, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", limit, rec.Code)
		}
	}

	source.err = errors.New("database is closed")
	rec = do(t, router, http.MethodGet, "/predictions/recent", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 on source error, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, router := newTestRouter(t, shippedSpecs(), Routes{})

	rec := do(t, router, http.MethodOptions, "/predict", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Expected empty preflight body, got %q", rec.Body.String())
	}
}

func TestExtraRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fetal_models_loaded 2\n"))
	})
	_, router := newTestRouter(t, shippedSpecs(), Routes{Metrics: metrics})

	rec := do(t, router, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "fetal_models_loaded") {
		t.Errorf("Unexpected /metrics response: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/ws/predictions", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without live feed, got %d", rec.Code)
	}
}
