package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName - полное имя gRPC сервиса предсказаний
const ServiceName = "fetalhealth.v1.PredictionService"

const (
	methodPredict      = "/" + ServiceName + "/Predict"
	methodPredictBatch = "/" + ServiceName + "/PredictBatch"
	methodListModels   = "/" + ServiceName + "/ListModels"
	methodHealth       = "/" + ServiceName + "/Health"
)

// PredictionServiceServer - серверная часть fetalhealth.v1.PredictionService.
// Сообщения передаются как google.protobuf.Struct с теми же полями, что и JSON API.
type PredictionServiceServer interface {
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PredictBatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListModels(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterPredictionServiceServer(s grpc.ServiceRegistrar, srv PredictionServiceServer) {
	s.RegisterService(&PredictionService_ServiceDesc, srv)
}

type unaryMethod func(PredictionServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PredictionServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PredictionServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// PredictionService_ServiceDesc - описание сервиса для grpc.Server
var PredictionService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PredictionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Predict",
			Handler:    unaryHandler(methodPredict, PredictionServiceServer.Predict),
		},
		{
			MethodName: "PredictBatch",
			Handler:    unaryHandler(methodPredictBatch, PredictionServiceServer.PredictBatch),
		},
		{
			MethodName: "ListModels",
			Handler:    unaryHandler(methodListModels, PredictionServiceServer.ListModels),
		},
		{
			MethodName: "Health",
			Handler:    unaryHandler(methodHealth, PredictionServiceServer.Health),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fetalhealth/v1/prediction.proto",
}

// PredictionServiceClient - клиент fetalhealth.v1.PredictionService
type PredictionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPredictionServiceClient(cc grpc.ClientConnInterface) *PredictionServiceClient {
	return &PredictionServiceClient{cc: cc}
}

func (c *PredictionServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PredictionServiceClient) Predict(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodPredict, in, opts...)
}

func (c *PredictionServiceClient) PredictBatch(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodPredictBatch, in, opts...)
}

func (c *PredictionServiceClient) ListModels(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodListModels, in, opts...)
}

func (c *PredictionServiceClient) Health(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodHealth, in, opts...)
}
