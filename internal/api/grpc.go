package api

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// The gRPC service carries google.protobuf.Struct messages both ways, so it
// needs no generated stubs:
//
//	service Classifier {
//	  rpc Decide(google.protobuf.Struct) returns (google.protobuf.Struct);
//	  rpc Stats(google.protobuf.Struct) returns (google.protobuf.Struct);
//	}
//
// Decide takes {"frame": <base64>, "in_port": n, "mode": "rule"|"model"}.
const classifierServiceName = "go2netqos.v1.Classifier"

// ClassifierServer is the server API for the Classifier service.
type ClassifierServer interface {
	Decide(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ClassifierServiceDesc describes the Classifier service for grpc.Server.
var ClassifierServiceDesc = grpc.ServiceDesc{
	ServiceName: classifierServiceName,
	HandlerType: (*ClassifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: unaryHandler("Decide", ClassifierServer.Decide)},
		{MethodName: "Stats", Handler: unaryHandler("Stats", ClassifierServer.Stats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "go2netqos/v1/classifier.proto",
}

type unaryMethod func(ClassifierServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + classifierServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ClassifierServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ClassifierServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterClassifierServer registers srv with s.
func RegisterClassifierServer(s grpc.ServiceRegistrar, srv ClassifierServer) {
	s.RegisterService(&ClassifierServiceDesc, srv)
}

// ClassifierClient is a thin client for the Classifier service.
type ClassifierClient struct {
	cc grpc.ClientConnInterface
}

// NewClassifierClient wraps a client connection.
func NewClassifierClient(cc grpc.ClientConnInterface) *ClassifierClient {
	return &ClassifierClient{cc: cc}
}

// Decide calls Classifier.Decide.
func (c *ClassifierClient) Decide(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+classifierServiceName+"/Decide", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats calls Classifier.Stats.
func (c *ClassifierClient) Stats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+classifierServiceName+"/Stats", &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GRPCServer implements ClassifierServer on top of a Service.
type GRPCServer struct {
	service *Service
	logger  *zap.Logger
}

// NewGRPCServer creates the gRPC front end of service.
func NewGRPCServer(service *Service, logger *zap.Logger) *GRPCServer {
	return &GRPCServer{service: service, logger: logger}
}

func (s *GRPCServer) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	frame, err := base64.StdEncoding.DecodeString(fields["frame"].GetStringValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "frame must be base64: %v", err)
	}
	req := ClassifyRequest{
		Frame:  frame,
		InPort: uint32(fields["in_port"].GetNumberValue()),
		Mode:   fields["mode"].GetStringValue(),
	}
	if ts := fields["timestamp"].GetStringValue(); ts != "" {
		if req.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid timestamp: %v", err)
		}
	}

	resp, err := s.service.Classify(req)
	if err != nil {
		if isBadRequest(err) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		s.logger.Warn("Decide failed", zap.Error(err))
		return nil, status.Error(codes.Internal, err.Error())
	}

	return structpb.NewStruct(map[string]any{
		"flow_key":   resp.FlowKey,
		"mode":       resp.Mode,
		"class":      resp.Class,
		"method":     resp.Method,
		"confidence": resp.Confidence,
		"priority":   resp.Priority,
	})
}

func (s *GRPCServer) Stats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.service.Stats()
	byClass := make(map[string]any, len(st.ByClass))
	for class, n := range st.ByClass {
		byClass[string(class)] = n
	}
	byMethod := make(map[string]any, len(st.ByMethod))
	for method, n := range st.ByMethod {
		byMethod[string(method)] = n
	}
	out, err := structpb.NewStruct(map[string]any{
		"mode":          string(st.Mode),
		"processed":     st.Processed,
		"dropped":       st.Dropped,
		"errors":        st.Errors,
		"tracked_flows": st.TrackedFlows,
		"by_class":      byClass,
		"by_method":     byMethod,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("failed to encode stats: %v", err))
	}
	return out, nil
}
