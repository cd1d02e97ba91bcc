// Package grpc provides the gRPC transport of the replay service.
//
// The service is declared by hand and carries google.protobuf.Struct
// messages whose JSON shape matches the HTTP API, so no generated code is
// required on either side.
package grpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chatreplay/chatreplay/internal/errors"
	"github.com/chatreplay/chatreplay/pkg/types"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "chatreplay.v1.Completions"

	// CompleteMethod is the full method name of the unary Complete call.
	CompleteMethod = "/" + ServiceName + "/Complete"

	// RequestIDKey is the metadata key carrying the request id.
	RequestIDKey = "x-request-id"
)

// CompletionsService is implemented by the server side of the service.
type CompletionsService interface {
	Complete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// CompletionsServiceDesc describes the service for grpc.Server.RegisterService.
var CompletionsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CompletionsService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Complete",
			Handler:    completeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chatreplay/v1/completions.proto",
}

func completeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompletionsService).Complete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: CompleteMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CompletionsService).Complete(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterCompletionsServer registers srv with s.
func RegisterCompletionsServer(s grpc.ServiceRegistrar, srv CompletionsService) {
	s.RegisterService(&CompletionsServiceDesc, srv)
}

// Responder produces the replay response for a message history.
type Responder interface {
	Respond(messages []types.Message) (types.ResponseEnvelope, error)
}

// CompletionsServer implements CompletionsService over a Responder.
type CompletionsServer struct {
	responder Responder
}

// NewCompletionsServer creates a gRPC completions server.
func NewCompletionsServer(responder Responder) *CompletionsServer {
	return &CompletionsServer{responder: responder}
}

// Complete handles one chat completion call. Malformed requests, invalid
// histories and misses all return NotFound with the same message.
func (s *CompletionsServer) Complete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requestID := extractRequestID(ctx)
	_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDKey, requestID))

	messages, err := DecodeRequest(req)
	if err != nil {
		return nil, status.Error(codes.NotFound, types.NotFoundMessage)
	}

	env, err := s.responder.Respond(messages)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, status.Error(codes.NotFound, types.NotFoundMessage)
		}
		return nil, status.Errorf(codes.Internal, "lookup failed: %v", err)
	}

	out, err := EncodeResponse(env)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return out, nil
}

// CompletionsClient is the client side of the service.
type CompletionsClient struct {
	cc grpc.ClientConnInterface
}

// NewCompletionsClient creates a client over cc.
func NewCompletionsClient(cc grpc.ClientConnInterface) *CompletionsClient {
	return &CompletionsClient{cc: cc}
}

// Complete invokes the remote Complete method.
func (c *CompletionsClient) Complete(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CompleteMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeRequest converts a message history to the wire request.
func EncodeRequest(messages []types.Message) (*structpb.Struct, error) {
	return toStruct(types.ChatCompletionRequest{Messages: messages})
}

// DecodeRequest extracts the message history from a wire request.
// Role aliases are resolved the same way as on the HTTP transport.
func DecodeRequest(req *structpb.Struct) ([]types.Message, error) {
	var body types.ChatCompletionRequest
	if err := fromStruct(req, &body); err != nil {
		return nil, err
	}
	return body.Messages, nil
}

// EncodeResponse converts a response envelope to its wire form.
func EncodeResponse(env types.ResponseEnvelope) (*structpb.Struct, error) {
	return toStruct(env)
}

// DecodeResponse converts a wire response back to an envelope.
func DecodeResponse(resp *structpb.Struct) (types.ResponseEnvelope, error) {
	var env types.ResponseEnvelope
	if err := fromStruct(resp, &env); err != nil {
		return types.ResponseEnvelope{}, err
	}
	return env, nil
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to convert to struct: %w", err)
	}
	return out, nil
}

func fromStruct(s *structpb.Struct, v interface{}) error {
	if s == nil {
		return fmt.Errorf("empty message")
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to convert from struct: %w", err)
	}
	return json.Unmarshal(data, v)
}

// extractRequestID gets the request ID from gRPC metadata or generates one.
func extractRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if ok {
		if vals := md.Get(RequestIDKey); len(vals) > 0 && vals[0] != "" {
			return vals[0]
		}
	}
	return uuid.New().String()
}
