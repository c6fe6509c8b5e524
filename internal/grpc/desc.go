package grpc

import (
	"context"

	grpclib "google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// StreamMatchMethod is the fully qualified method name of the spectator stream.
const StreamMatchMethod = "/pong.spectator.v1.SpectatorService/StreamMatch"

// SpectatorServer is the server API of the spectator service.
type SpectatorServer interface {
	StreamMatch(*wrapperspb.Int64Value, grpclib.ServerStreamingServer[wrapperspb.BytesValue]) error
}

// SpectatorServiceDesc describes the spectator service using well-known wrapper messages, so
// no generated code is needed on either side.
var SpectatorServiceDesc = grpclib.ServiceDesc{
	ServiceName: "pong.spectator.v1.SpectatorService",
	HandlerType: (*SpectatorServer)(nil),
	Streams: []grpclib.StreamDesc{
		{
			StreamName:    "StreamMatch",
			Handler:       streamMatchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "pong/spectator/v1/spectator.proto",
}

// RegisterSpectatorServer attaches the spectator implementation to a gRPC server.
func RegisterSpectatorServer(registrar grpclib.ServiceRegistrar, srv SpectatorServer) {
	registrar.RegisterService(&SpectatorServiceDesc, srv)
}

func streamMatchHandler(srv interface{}, stream grpclib.ServerStream) error {
	req := new(wrapperspb.Int64Value)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(SpectatorServer).StreamMatch(req, &grpclib.GenericServerStream[wrapperspb.Int64Value, wrapperspb.BytesValue]{ServerStream: stream})
}

// SpectatorClient dials the spectator stream.
type SpectatorClient struct {
	cc grpclib.ClientConnInterface
}

// NewSpectatorClient wraps an established client connection.
func NewSpectatorClient(cc grpclib.ClientConnInterface) *SpectatorClient {
	return &SpectatorClient{cc: cc}
}

// StreamMatch opens a snapshot stream for matchID.
func (c *SpectatorClient) StreamMatch(ctx context.Context, matchID int64, opts ...grpclib.CallOption) (grpclib.ServerStreamingClient[wrapperspb.BytesValue], error) {
	stream, err := c.cc.NewStream(ctx, &SpectatorServiceDesc.Streams[0], StreamMatchMethod, opts...)
	if err != nil {
		return nil, err
	}
	client := &grpclib.GenericClientStream[wrapperspb.Int64Value, wrapperspb.BytesValue]{ClientStream: stream}
	if err := client.ClientStream.SendMsg(wrapperspb.Int64(matchID)); err != nil {
		return nil, err
	}
	if err := client.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return client, nil
}
