package transport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/cuemby/multiraft/pkg/wire"
)

// dispatchService is implemented by GRPC itself; RegisterService binds it
// to this hand-written grpc.ServiceDesc in place of the generated
// *_grpc.pb.go a protoc run would otherwise produce (see SPEC_FULL.md
// section 4.3).
type dispatchService interface {
	Dispatch(ctx context.Context, msg *wire.RaftMessage) (*wire.RaftMessageResponse, error)
}

const dispatchMethod = "/multiraft.Transport/Dispatch"

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: "multiraft.Transport",
	HandlerType: (*dispatchService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Dispatch",
			Handler:    dispatchHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/transport/service.go",
}

func dispatchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wire.RaftMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(dispatchService).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: dispatchMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(dispatchService).Dispatch(ctx, req.(*wire.RaftMessage))
	}
	return interceptor(ctx, in, info, handler)
}
