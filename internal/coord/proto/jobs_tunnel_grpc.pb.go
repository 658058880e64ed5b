package coordproto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	JobsTunnel_RequestQueryProfile_FullMethodName = "/queryplane.coord.v1.JobsTunnel/RequestQueryProfile"
	JobsTunnel_RequestCancelQuery_FullMethodName  = "/queryplane.coord.v1.JobsTunnel/RequestCancelQuery"
)

type JobsTunnelClient interface {
	RequestQueryProfile(ctx context.Context, in *QueryProfileRequest, opts ...grpc.CallOption) (*QueryProfileResponse, error)
	RequestCancelQuery(ctx context.Context, in *CancelQueryRequest, opts ...grpc.CallOption) (*Ack, error)
}

type jobsTunnelClient struct {
	cc grpc.ClientConnInterface
}

func NewJobsTunnelClient(cc grpc.ClientConnInterface) JobsTunnelClient {
	return &jobsTunnelClient{cc: cc}
}

func (c *jobsTunnelClient) RequestQueryProfile(ctx context.Context, in *QueryProfileRequest, opts ...grpc.CallOption) (*QueryProfileResponse, error) {
	out := new(QueryProfileResponse)
	if err := c.cc.Invoke(ctx, JobsTunnel_RequestQueryProfile_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *jobsTunnelClient) RequestCancelQuery(ctx context.Context, in *CancelQueryRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, JobsTunnel_RequestCancelQuery_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type JobsTunnelServer interface {
	RequestQueryProfile(context.Context, *QueryProfileRequest) (*QueryProfileResponse, error)
	RequestCancelQuery(context.Context, *CancelQueryRequest) (*Ack, error)
	mustEmbedUnimplementedJobsTunnelServer()
}

type UnimplementedJobsTunnelServer struct{}

func (UnimplementedJobsTunnelServer) RequestQueryProfile(context.Context, *QueryProfileRequest) (*QueryProfileResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method RequestQueryProfile not implemented")
}
func (UnimplementedJobsTunnelServer) RequestCancelQuery(context.Context, *CancelQueryRequest) (*Ack, error) {
	return nil, status.Errorf(codes.Unimplemented, "method RequestCancelQuery not implemented")
}
func (UnimplementedJobsTunnelServer) mustEmbedUnimplementedJobsTunnelServer() {}

func RegisterJobsTunnelServer(s grpc.ServiceRegistrar, srv JobsTunnelServer) {
	s.RegisterService(&JobsTunnel_ServiceDesc, srv)
}

func _JobsTunnel_RequestQueryProfile_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(QueryProfileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JobsTunnelServer).RequestQueryProfile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: JobsTunnel_RequestQueryProfile_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(JobsTunnelServer).RequestQueryProfile(ctx, req.(*QueryProfileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _JobsTunnel_RequestCancelQuery_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelQueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JobsTunnelServer).RequestCancelQuery(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: JobsTunnel_RequestCancelQuery_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(JobsTunnelServer).RequestCancelQuery(ctx, req.(*CancelQueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var JobsTunnel_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "queryplane.coord.v1.JobsTunnel",
	HandlerType: (*JobsTunnelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestQueryProfile", Handler: _JobsTunnel_RequestQueryProfile_Handler},
		{MethodName: "RequestCancelQuery", Handler: _JobsTunnel_RequestCancelQuery_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/coord/proto/jobs_tunnel.proto",
}
