package grpcapi

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/features"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/health"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/registry"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/service"
)

const modelsDir = "../../models"

type testEnv struct {
	client *PredictionServiceClient
	health grpc_health_v1.HealthClient
}

func startServer(t *testing.T) *testEnv {
	t.Helper()

	reg := registry.LoadAll("gradient_boosting", []registry.ModelSpec{
		{Name: "decision_tree", Path: filepath.Join(modelsDir, "decision_tree_model.json")},
		{Name: "gradient_boosting", Path: filepath.Join(modelsDir, "gradient_boosting_model.json")},
		{Name: "broken", Path: filepath.Join(modelsDir, "absent.json")},
	}, nil)
	t.Cleanup(func() { reg.Close() })

	svc := service.NewPredictionService(reg, service.Options{}, nil)
	healthServer := health.NewHealthServer()
	healthServer.SyncModels(reg, ServiceName)

	lis := bufconn.Listen(1 << 20)
	s := NewServer(NewPredictionServer(svc, nil), healthServer)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return &testEnv{
		client: NewPredictionServiceClient(conn),
		health: grpc_health_v1.NewHealthClient(conn),
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func scenarioValue() map[string]interface{} {
	m := make(map[string]interface{})
	for name, value := range features.Example() {
		m[name] = value
	}
	return m
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("Failed to build struct: %v", err)
	}
	return s
}

func TestPredict(t *testing.T) {
	env := startServer(t)
	ctx := metadata.AppendToOutgoingContext(testContext(t), RequestIDKey, "grpc-1")

	var header metadata.MD
	resp, err := env.client.Predict(ctx, mustStruct(t, map[string]interface{}{
		"features": scenarioValue(),
	}), grpc.Header(&header))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	fields := resp.GetFields()
	if fields["prediction_code"].GetNumberValue() != 1.0 || fields["health_status"].GetStringValue() != "Normal" {
		t.Errorf("Unexpected prediction: %v", resp)
	}
	if fields["model_used"].GetStringValue() != "gradient_boosting" {
		t.Errorf("Expected default model, got %v", fields["model_used"])
	}
	if got := header.Get(RequestIDKey); len(got) != 1 || got[0] != "grpc-1" {
		t.Errorf("Expected request id echoed in header, got %v", got)
	}
}

func TestPredict_Errors(t *testing.T) {
	env := startServer(t)
	ctx := testContext(t)

	outOfRange := scenarioValue()
	outOfRange["baseline_value"] = 400.0
	nonNumeric := scenarioValue()
	nonNumeric["baseline_value"] = "120"

	tests := []struct {
		name  string
		req   map[string]interface{}
		code  codes.Code
		field string
	}{
		{"missing features", map[string]interface{}{}, codes.InvalidArgument, "features"},
		{"out of range", map[string]interface{}{"features": outOfRange}, codes.InvalidArgument, "baseline_value"},
		{"non-numeric", map[string]interface{}{"features": nonNumeric}, codes.InvalidArgument, "baseline_value"},
		{"unknown model", map[string]interface{}{"features": scenarioValue(), "model_name": "random_forest"}, codes.NotFound, ""},
		{"unloaded model", map[string]interface{}{"features": scenarioValue(), "model_name": "broken"}, codes.Unavailable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.client.Predict(ctx, mustStruct(t, tt.req))
			st := status.Convert(err)
			if st.Code() != tt.code {
				t.Fatalf("Expected %v, got %v", tt.code, err)
			}
			if tt.field == "" {
				return
			}
			if got := violationField(t, st); got != tt.field {
				t.Errorf("Expected violation on %s, got %s", tt.field, got)
			}
		})
	}
}

func violationField(t *testing.T, st *status.Status) string {
	t.Helper()
	for _, d := range st.Details() {
		if br, ok := d.(*errdetails.BadRequest); ok && len(br.GetFieldViolations()) > 0 {
			return br.GetFieldViolations()[0].GetField()
		}
	}
	t.Fatalf("No BadRequest details in %v", st)
	return ""
}

func TestPredictBatch(t *testing.T) {
	env := startServer(t)
	ctx := testContext(t)

	resp, err := env.client.PredictBatch(ctx, mustStruct(t, map[string]interface{}{
		"features_list": []interface{}{scenarioValue(), scenarioValue()},
		"model_name":    "decision_tree",
	}))
	if err != nil {
		t.Fatalf("PredictBatch failed: %v", err)
	}

	predictions := resp.GetFields()["predictions"].GetListValue().GetValues()
	if len(predictions) != 2 {
		t.Fatalf("Expected 2 predictions, got %d", len(predictions))
	}
	for _, p := range predictions {
		fields := p.GetStructValue().GetFields()
		if fields["model_used"].GetStringValue() != "decision_tree" || fields["confidence"].GetNumberValue() != 0.92 {
			t.Errorf("Unexpected prediction: %v", p)
		}
	}

	bad := scenarioValue()
	bad["histogram_tendency"] = 5.0
	_, err = env.client.PredictBatch(ctx, mustStruct(t, map[string]interface{}{
		"features_list": []interface{}{scenarioValue(), scenarioValue(), bad},
	}))
	st := status.Convert(err)
	if st.Code() != codes.InvalidArgument {
		t.Fatalf("Expected InvalidArgument, got %v", err)
	}
	if got := violationField(t, st); got != "features_list[2].histogram_tendency" {
		t.Errorf("Unexpected violation field: %s", got)
	}

	_, err = env.client.PredictBatch(ctx, mustStruct(t, map[string]interface{}{"features_list": []interface{}{}}))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument for empty batch, got %v", err)
	}
}

func TestListModelsAndHealth(t *testing.T) {
	env := startServer(t)
	ctx := testContext(t)

	resp, err := env.client.ListModels(ctx, nil)
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	list := resp.GetFields()["models"].GetListValue().GetValues()
	if len(list) != 3 {
		t.Fatalf("Expected 3 models, got %d", len(list))
	}
	broken := list[2].GetStructValue().GetFields()
	if broken["loaded"].GetBoolValue() || broken["error"].GetStringValue() == "" {
		t.Errorf("Expected broken model with error, got %v", broken)
	}

	summary, err := env.client.Health(ctx, nil)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if summary.GetFields()["message"].GetStringValue() != "2 of 3 models loaded" {
		t.Errorf("Unexpected health summary: %v", summary)
	}

	checks := map[string]grpc_health_v1.HealthCheckResponse_ServingStatus{
		"":                                       grpc_health_v1.HealthCheckResponse_SERVING,
		ServiceName:                              grpc_health_v1.HealthCheckResponse_SERVING,
		health.ModelService("gradient_boosting"): grpc_health_v1.HealthCheckResponse_SERVING,
		health.ModelService("broken"):            grpc_health_v1.HealthCheckResponse_NOT_SERVING,
	}
	for name, expected := range checks {
		res, err := env.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: name})
		if err != nil {
			t.Fatalf("Check(%q) failed: %v", name, err)
		}
		if res.GetStatus() != expected {
			t.Errorf("Check(%q) = %v, expected %v", name, res.GetStatus(), expected)
		}
	}
}

type rejectCounter struct {
	mu    sync.Mutex
	count int
}

func (c *rejectCounter) PredictionServed(ctx context.Context, e service.Event) {}

func (c *rejectCounter) PredictionFailed(ctx context.Context, model string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

func TestPredict_NonNumericFeaturesReachService(t *testing.T) {
	reg := registry.LoadAll("gradient_boosting", []registry.ModelSpec{
		{Name: "gradient_boosting", Path: filepath.Join(modelsDir, "gradient_boosting_model.json")},
	}, nil)
	t.Cleanup(func() { reg.Close() })

	svc := service.NewPredictionService(reg, service.Options{}, nil)
	counter := &rejectCounter{}
	svc.AddObserver(counter)
	srv := NewPredictionServer(svc, nil)

	fv := scenarioValue()
	fv["histogram_tendency"] = "up"

	_, err := srv.Predict(context.Background(), mustStruct(t, map[string]interface{}{"features": fv}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Expected InvalidArgument, got %v", err)
	}

	_, err = srv.PredictBatch(context.Background(), mustStruct(t, map[string]interface{}{
		"features_list": []interface{}{scenarioValue(), fv},
	}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Expected InvalidArgument, got %v", err)
	}

	counter.mu.Lock()
	defer counter.mu.Unlock()
	if counter.count != 2 {
		t.Errorf("Expected 2 failures recorded, got %d", counter.count)
	}
}
