// Package grpcapi serves the recognition service over gRPC. Messages are
// google.protobuf.Struct values so no generated code is needed on either
// side.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mixtex.v1.OCR"

const (
	methodPredict     = "Predict"
	methodReloadModel = "ReloadModel"
	methodStatistics  = "Statistics"
)

// OCRServer is implemented by Server.
type OCRServer interface {
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReloadModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Statistics(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes mixtex.v1.OCR for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OCRServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodPredict, Handler: unaryHandler(methodPredict, OCRServer.Predict)},
		{MethodName: methodReloadModel, Handler: unaryHandler(methodReloadModel, OCRServer.ReloadModel)},
		{MethodName: methodStatistics, Handler: unaryHandler(methodStatistics, OCRServer.Statistics)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mixtex/v1/ocr.proto",
}

func fullMethod(method string) string { return "/" + ServiceName + "/" + method }

func unaryHandler(method string, call func(OCRServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OCRServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(OCRServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
