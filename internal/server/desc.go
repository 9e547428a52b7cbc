package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "docextract.v1.Extraction"

// ExtractionService is the server API of docextract.v1.Extraction. Every
// request and response is a google.protobuf.Struct holding the JSON body
// used by the REST API.
type ExtractionService interface {
	Extract(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SuggestSchema(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateExtractor(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetExtractor(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListExtractors(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteExtractor(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddExample(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListExamples(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateSchema(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(ExtractionService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(ExtractionService)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes docextract.v1.Extraction for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExtractionService)(nil),
	Methods: []grpc.MethodDesc{
		method("Extract", ExtractionService.Extract),
		method("SuggestSchema", ExtractionService.SuggestSchema),
		method("CreateExtractor", ExtractionService.CreateExtractor),
		method("GetExtractor", ExtractionService.GetExtractor),
		method("ListExtractors", ExtractionService.ListExtractors),
		method("DeleteExtractor", ExtractionService.DeleteExtractor),
		method("AddExample", ExtractionService.AddExample),
		method("ListExamples", ExtractionService.ListExamples),
		method("ValidateSchema", ExtractionService.ValidateSchema),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docextract/v1/extraction.proto",
}

// RegisterExtractionService registers srv on s.
func RegisterExtractionService(s grpc.ServiceRegistrar, srv ExtractionService) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls docextract.v1.Extraction over an existing connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with in as the request body and returns the response body.
func (c *Client) Call(ctx context.Context, method string, in map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
