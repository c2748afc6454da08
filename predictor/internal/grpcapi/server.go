package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/features"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/health"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/service"
	"github.com/Krimson/fetal-health-classifier/predictor/pkg/models"
)

// RequestIDKey - ключ метаданных с идентификатором запроса
const RequestIDKey = "x-request-id"

// PredictionServer реализует PredictionServiceServer поверх PredictionService
type PredictionServer struct {
	predictionService *service.PredictionService
	logger            *zap.SugaredLogger
}

func NewPredictionServer(predictionService *service.PredictionService, logger *zap.SugaredLogger) *PredictionServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PredictionServer{
		predictionService: predictionService,
		logger:            logger,
	}
}

// NewServer собирает grpc.Server: сервис предсказаний, grpc.health.v1 и reflection
func NewServer(srv *PredictionServer, healthServer *health.HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(requestIDInterceptor, loggingInterceptor(srv.logger)))
	s := grpc.NewServer(opts...)

	RegisterPredictionServiceServer(s, srv)
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	reflection.Register(s)
	return s
}

// Predict - {features: {...}, model_name?: string}
func (s *PredictionServer) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fv, err := featuresFromValue(req.GetFields()["features"])
	if err != nil {
		s.predictionService.Reject(ctx, modelName(req), err)
		return nil, statusFor(err)
	}

	result, err := s.predictionService.PredictOne(ctx, fv, modelName(req))
	if err != nil {
		return nil, statusFor(err)
	}
	return structpb.NewStruct(resultMap(result))
}

// PredictBatch - {features_list: [{...}], model_name?: string}
func (s *PredictionServer) PredictBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	items := req.GetFields()["features_list"].GetListValue().GetValues()

	fvs := make([]features.FeatureVector, len(items))
	for i, item := range items {
		fv, err := featuresFromValue(item)
		if err != nil {
			itemErr := &service.BatchItemError{Index: i, Err: err}
			s.predictionService.Reject(ctx, modelName(req), itemErr)
			return nil, statusFor(itemErr)
		}
		fvs[i] = fv
	}

	results, err := s.predictionService.PredictBatch(ctx, fvs, modelName(req))
	if err != nil {
		return nil, statusFor(err)
	}

	predictions := make([]interface{}, len(results))
	for i, result := range results {
		predictions[i] = resultMap(result)
	}
	return structpb.NewStruct(map[string]interface{}{"predictions": predictions})
}

// ListModels - {models: [{name, type, loaded, file_path, revision?, error?}]}
func (s *PredictionServer) ListModels(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	infos := s.predictionService.ListModels()

	list := make([]interface{}, len(infos))
	for i, info := range infos {
		m := map[string]interface{}{
			"name":      info.Name,
			"type":      info.Type,
			"loaded":    info.Loaded,
			"file_path": info.FilePath,
		}
		if info.Revision != "" {
			m["revision"] = info.Revision
		}
		if info.Error != "" {
			m["error"] = info.Error
		}
		list[i] = m
	}
	return structpb.NewStruct(map[string]interface{}{"models": list})
}

// Health - {status, message, models_loaded}. Отсутствие моделей - не ошибка RPC.
func (s *PredictionServer) Health(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	summary := s.predictionService.HealthSummary()

	loaded := make([]interface{}, len(summary.ModelsLoaded))
	for i, name := range summary.ModelsLoaded {
		loaded[i] = name
	}
	return structpb.NewStruct(map[string]interface{}{
		"status":        summary.Status,
		"message":       summary.Message,
		"models_loaded": loaded,
	})
}

func modelName(req *structpb.Struct) *string {
	v, ok := req.GetFields()["model_name"]
	if !ok {
		return nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil
	}
	name := v.GetStringValue()
	return &name
}

// featuresFromValue принимает только числовые значения; диапазоны проверяет сервис
func featuresFromValue(v *structpb.Value) (features.FeatureVector, error) {
	obj := v.GetStructValue()
	if obj == nil {
		return nil, &features.FieldError{Field: "features", Reason: "must be an object"}
	}

	fv := make(features.FeatureVector, len(obj.GetFields()))
	for name, value := range obj.GetFields() {
		number, ok := value.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, &features.FieldError{Field: name, Reason: "must be a number"}
		}
		fv[name] = number.NumberValue
	}
	return fv, nil
}

func resultMap(r models.PredictionResult) map[string]interface{} {
	return map[string]interface{}{
		"prediction_code":   r.PredictionCode,
		"health_status":     r.HealthStatus,
		"model_used":        r.ModelUsed,
		"confidence":        r.Confidence,
		"confidence_source": r.ConfidenceSource,
	}
}

// statusFor переводит ошибки сервиса в gRPC статус. Ошибки признаков
// дополняются errdetails.BadRequest с именем поля.
func statusFor(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, service.ErrInvalidFeatures):
		code = codes.InvalidArgument
	case errors.Is(err, service.ErrModelNotFound):
		code = codes.NotFound
	case errors.Is(err, service.ErrModelNotLoaded), errors.Is(err, service.ErrNoModelAvailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}

	st := status.New(code, err.Error())
	if code != codes.InvalidArgument {
		return st.Err()
	}

	field := "features"
	var fieldErr *features.FieldError
	if errors.As(err, &fieldErr) {
		field = fieldErr.Field
	}
	var itemErr *service.BatchItemError
	if errors.As(err, &itemErr) {
		field = fmt.Sprintf("features_list[%d].%s", itemErr.Index, field)
	}

	detailed, detailErr := st.WithDetails(&errdetails.BadRequest{
		FieldViolations: []*errdetails.BadRequest_FieldViolation{
			{Field: field, Description: err.Error()},
		},
	})
	if detailErr != nil {
		return st.Err()
	}
	return detailed.Err()
}

func requestIDInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(RequestIDKey); len(values) > 0 {
			id = values[0]
		}
	}
	if id == "" {
		id = uuid.New().String()
	}

	grpc.SetHeader(ctx, metadata.Pairs(RequestIDKey, id))
	return handler(service.WithRequestID(ctx, id), req)
}

func loggingInterceptor(logger *zap.SugaredLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		if code == codes.Internal || code == codes.Unknown {
			logger.Errorw("gRPC request failed",
				"method", info.FullMethod,
				"request_id", service.RequestIDFrom(ctx),
				"error", err)
		} else {
			logger.Debugw("gRPC request",
				"method", info.FullMethod,
				"code", code.String(),
				"duration", time.Since(start),
				"request_id", service.RequestIDFrom(ctx))
		}
		return resp, err
	}
}
