package health

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ModelSource - то, что нужно health-серверу от реестра моделей
type ModelSource interface {
	IsReady() bool
	Loaded() []string
	Names() []string
}

const modelServicePrefix = "model/"

// ModelService - имя сервиса здоровья для отдельной модели
func ModelService(name string) string {
	return modelServicePrefix + name
}

type HealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	mu       sync.RWMutex
	services map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
	// changed закрывается и пересоздается при каждом изменении статусов
	changed  chan struct{}
	shutdown bool
}

func NewHealthServer() *HealthServer {
	return &HealthServer{
		services: map[string]grpc_health_v1.HealthCheckResponse_ServingStatus{
			"": grpc_health_v1.HealthCheckResponse_NOT_SERVING,
		},
		changed: make(chan struct{}),
	}
}

func (h *HealthServer) notifyLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

// SyncModels выставляет статусы по реестру: общий и основного сервиса - SERVING,
// если загружена хотя бы одна модель; model/<name> - по каждой модели.
func (h *HealthServer) SyncModels(source ModelSource, mainService string) {
	overall := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if source.IsReady() {
		overall = grpc_health_v1.HealthCheckResponse_SERVING
	}

	loaded := make(map[string]bool)
	for _, name := range source.Loaded() {
		loaded[name] = true
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.services[""] = overall
	h.services[mainService] = overall
	for _, name := range source.Names() {
		st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
		if loaded[name] {
			st = grpc_health_v1.HealthCheckResponse_SERVING
		}
		h.services[ModelService(name)] = st
	}
	h.notifyLocked()
}

func (h *HealthServer) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	servingStatus, exists := h.services[req.GetService()]
	if !exists {
		return nil, status.Error(codes.NotFound, "service not found")
	}

	return &grpc_health_v1.HealthCheckResponse{
		Status: servingStatus,
	}, nil
}

// Watch отправляет текущий статус и каждое его изменение. После Shutdown
// поток завершается, чтобы не держать GracefulStop.
func (h *HealthServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	var last grpc_health_v1.HealthCheckResponse_ServingStatus
	sent := false

	for {
		h.mu.RLock()
		current, exists := h.services[req.GetService()]
		changed := h.changed
		down := h.shutdown
		h.mu.RUnlock()

		if !exists {
			current = grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
		}
		if !sent || current != last {
			if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: current}); err != nil {
				return err
			}
			last, sent = current, true
		}
		if down {
			return nil
		}

		select {
		case <-changed:
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

// Shutdown переводит все сервисы в NOT_SERVING и завершает Watch-потоки
func (h *HealthServer) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for service := range h.services {
		h.services[service] = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.shutdown = true
	h.notifyLocked()
}
