package v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "pagelock.v1.PageLockService"

	RequireLockFullMethod    = "/" + ServiceName + "/RequireLock"
	GetActiveLocksFullMethod = "/" + ServiceName + "/GetActiveLocks"
	ReleaseLockFullMethod    = "/" + ServiceName + "/ReleaseLock"
	GetStatusFullMethod      = "/" + ServiceName + "/GetStatus"
	HeartbeatFullMethod      = "/" + ServiceName + "/Heartbeat"
)

// PageLockServiceServer is implemented by the lock service.
type PageLockServiceServer interface {
	RequireLock(context.Context, *RequireLockRequest) (*RequireLockResponse, error)
	GetActiveLocks(context.Context, *GetActiveLocksRequest) (*GetActiveLocksResponse, error)
	ReleaseLock(context.Context, *ReleaseLockRequest) (*ReleaseLockResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
	// Heartbeat refreshes a held lock once per received request.
	Heartbeat(PageLockService_HeartbeatServer) error
}

// UnimplementedPageLockServiceServer can be embedded for forward compatibility.
type UnimplementedPageLockServiceServer struct{}

func (UnimplementedPageLockServiceServer) RequireLock(context.Context, *RequireLockRequest) (*RequireLockResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RequireLock not implemented")
}

func (UnimplementedPageLockServiceServer) GetActiveLocks(context.Context, *GetActiveLocksRequest) (*GetActiveLocksResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetActiveLocks not implemented")
}

func (UnimplementedPageLockServiceServer) ReleaseLock(context.Context, *ReleaseLockRequest) (*ReleaseLockResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ReleaseLock not implemented")
}

func (UnimplementedPageLockServiceServer) GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetStatus not implemented")
}

func (UnimplementedPageLockServiceServer) Heartbeat(PageLockService_HeartbeatServer) error {
	return status.Error(codes.Unimplemented, "method Heartbeat not implemented")
}

func RegisterPageLockServiceServer(s grpc.ServiceRegistrar, srv PageLockServiceServer) {
	s.RegisterService(&PageLockService_ServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](fullMethod string, call func(PageLockServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PageLockServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(PageLockServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func heartbeatHandler(srv any, stream grpc.ServerStream) error {
	return srv.(PageLockServiceServer).Heartbeat(&heartbeatServer{stream})
}

type PageLockService_HeartbeatServer interface {
	Send(*RequireLockResponse) error
	Recv() (*RequireLockRequest, error)
	grpc.ServerStream
}

type heartbeatServer struct {
	grpc.ServerStream
}

func (x *heartbeatServer) Send(m *RequireLockResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *heartbeatServer) Recv() (*RequireLockRequest, error) {
	m := new(RequireLockRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

var PageLockService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PageLockServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RequireLock",
			Handler: unaryHandler(RequireLockFullMethod, func(s PageLockServiceServer, ctx context.Context, in *RequireLockRequest) (*RequireLockResponse, error) {
				return s.RequireLock(ctx, in)
			}),
		},
		{
			MethodName: "GetActiveLocks",
			Handler: unaryHandler(GetActiveLocksFullMethod, func(s PageLockServiceServer, ctx context.Context, in *GetActiveLocksRequest) (*GetActiveLocksResponse, error) {
				return s.GetActiveLocks(ctx, in)
			}),
		},
		{
			MethodName: "ReleaseLock",
			Handler: unaryHandler(ReleaseLockFullMethod, func(s PageLockServiceServer, ctx context.Context, in *ReleaseLockRequest) (*ReleaseLockResponse, error) {
				return s.ReleaseLock(ctx, in)
			}),
		},
		{
			MethodName: "GetStatus",
			Handler: unaryHandler(GetStatusFullMethod, func(s PageLockServiceServer, ctx context.Context, in *GetStatusRequest) (*GetStatusResponse, error) {
				return s.GetStatus(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Heartbeat",
			Handler:       heartbeatHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "pagelock/v1/service",
}

// PageLockServiceClient is the client side of the lock service.
type PageLockServiceClient interface {
	RequireLock(ctx context.Context, in *RequireLockRequest, opts ...grpc.CallOption) (*RequireLockResponse, error)
	GetActiveLocks(ctx context.Context, in *GetActiveLocksRequest, opts ...grpc.CallOption) (*GetActiveLocksResponse, error)
	ReleaseLock(ctx context.Context, in *ReleaseLockRequest, opts ...grpc.CallOption) (*ReleaseLockResponse, error)
	GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error)
	Heartbeat(ctx context.Context, opts ...grpc.CallOption) (PageLockService_HeartbeatClient, error)
}

type pageLockServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewPageLockServiceClient(cc grpc.ClientConnInterface) PageLockServiceClient {
	return &pageLockServiceClient{cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *pageLockServiceClient) RequireLock(ctx context.Context, in *RequireLockRequest, opts ...grpc.CallOption) (*RequireLockResponse, error) {
	out := new(RequireLockResponse)
	if err := c.cc.Invoke(ctx, RequireLockFullMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pageLockServiceClient) GetActiveLocks(ctx context.Context, in *GetActiveLocksRequest, opts ...grpc.CallOption) (*GetActiveLocksResponse, error) {
	out := new(GetActiveLocksResponse)
	if err := c.cc.Invoke(ctx, GetActiveLocksFullMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pageLockServiceClient) ReleaseLock(ctx context.Context, in *ReleaseLockRequest, opts ...grpc.CallOption) (*ReleaseLockResponse, error) {
	out := new(ReleaseLockResponse)
	if err := c.cc.Invoke(ctx, ReleaseLockFullMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pageLockServiceClient) GetStatus(ctx context.Context, in *GetStatusRequest, opts ...grpc.CallOption) (*GetStatusResponse, error) {
	out := new(GetStatusResponse)
	if err := c.cc.Invoke(ctx, GetStatusFullMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pageLockServiceClient) Heartbeat(ctx context.Context, opts ...grpc.CallOption) (PageLockService_HeartbeatClient, error) {
	stream, err := c.cc.NewStream(ctx, &PageLockService_ServiceDesc.Streams[0], HeartbeatFullMethod, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &heartbeatClient{stream}, nil
}

type PageLockService_HeartbeatClient interface {
	Send(*RequireLockRequest) error
	Recv() (*RequireLockResponse, error)
	grpc.ClientStream
}

type heartbeatClient struct {
	grpc.ClientStream
}

func (x *heartbeatClient) Send(m *RequireLockRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *heartbeatClient) Recv() (*RequireLockResponse, error) {
	m := new(RequireLockResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
