package generator

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "hypothesis.v1.HypothesisGenerator",
	HandlerType: (*Generator)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: generateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hypothesis/v1/generator.proto",
}

// RegisterServer exposes g on s under the HypothesisGenerator service.
func RegisterServer(s grpc.ServiceRegistrar, g Generator) {
	s.RegisterService(&serviceDesc, g)
}

// #endregion service-desc

// #region handler

func generateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := &structpb.Struct{}
	if err := dec(req); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, r any) (any, error) {
		return serveGenerate(ctx, srv.(Generator), r.(*structpb.Struct))
	}
	if interceptor == nil {
		return call(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGenerate}
	return interceptor(ctx, req, info, call)
}

func serveGenerate(ctx context.Context, g Generator, req *structpb.Struct) (*structpb.Struct, error) {
	hctx, maxLength, n, err := decodeRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	candidates, err := g.Generate(ctx, hctx, maxLength, n)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "generate: %v", err)
	}
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	resp, err := encodeCandidates(candidates)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// #endregion handler
