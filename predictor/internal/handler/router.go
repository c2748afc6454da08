package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/service"
)

const RequestIDHeader = "X-Request-ID"

// Routes - дополнительные обработчики, которые собираются вне пакета
type Routes struct {
	Metrics  http.Handler
	LiveFeed http.HandlerFunc
}

// NewRouter собирает маршруты HTTP API
func NewRouter(h *HTTPHandler, extra Routes) *mux.Router {
	r := mux.NewRouter()
	r.Use(enableCORS, requestID, accessLog(h.logger))

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/models", h.ListModels).Methods(http.MethodGet)
	r.HandleFunc("/predict", h.Predict).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/predict/batch", h.PredictBatch).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/predictions/recent", h.RecentPredictions).Methods(http.MethodGet)

	if extra.Metrics != nil {
		r.Handle("/metrics", extra.Metrics).Methods(http.MethodGet)
	}
	if extra.LiveFeed != nil {
		r.HandleFunc("/ws/predictions", extra.LiveFeed)
	}

	// Swagger UI
	r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
	))

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestID берет X-Request-ID из запроса или генерирует новый и возвращает его в ответе
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(service.WithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func accessLog(logger *zap.SugaredLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// websocket upgrade требует исходный ResponseWriter (http.Hijacker)
			if r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			logger.Debugw("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
				"request_id", service.RequestIDFrom(r.Context()))
		})
	}
}
