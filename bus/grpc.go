package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"mpc-solution-core/mpcmsg"
	"mpc-solution-core/utils"
)

const (
	serviceName      = "mpc.SolutionStream"
	subscribeMethod  = "/" + serviceName + "/Subscribe"
	maxSolutionBytes = 4 * 1024 * 1024
)

// SolutionStreamServer is the server side of mpc.SolutionStream.
type SolutionStreamServer interface {
	Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
}

var solutionStreamDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SolutionStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "mpc/solution_stream.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(SolutionStreamServer).Subscribe(req, stream)
}

// RegisterSolutionStreamServer registers srv on s. s must use Codec, see
// NewGRPCServer.
func RegisterSolutionStreamServer(s grpc.ServiceRegistrar, srv SolutionStreamServer) {
	s.RegisterService(&solutionStreamDesc, srv)
}

// NewGRPCServer returns a grpc.Server that speaks the solution codec.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	base := []grpc.ServerOption{
		grpc.ForceServerCodec(Codec{}),
		grpc.MaxRecvMsgSize(maxSolutionBytes),
		grpc.MaxSendMsgSize(maxSolutionBytes),
	}
	return grpc.NewServer(append(base, opts...)...)
}

// MaxStreamBuffer caps the queue length a remote subscriber may ask for.
const MaxStreamBuffer = 256

// StreamServer streams every message published on a Bus to gRPC clients.
type StreamServer struct {
	bus *Bus
	log *utils.Logger
}

func NewStreamServer(b *Bus, log *utils.Logger) *StreamServer {
	return &StreamServer{bus: b, log: log}
}

func (s *StreamServer) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	name := req.Name
	if name == "" {
		name = "grpc"
	}
	buffer := int(min(req.Buffer, MaxStreamBuffer))
	sub := s.bus.Subscribe(name, buffer)
	defer sub.Close()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(m); err != nil {
				s.log.Warn("stream %s: send seq=%d: %v", name, m.Header.Seq, err)
				return err
			}
		}
	}
}

// Serve registers a StreamServer for b on a new gRPC server and serves lis
// until ctx ends.
func Serve(ctx context.Context, lis net.Listener, b *Bus, log *utils.Logger) error {
	srv := NewGRPCServer()
	RegisterSolutionStreamServer(srv, NewStreamServer(b, log))

	errCh := make(chan error, 1)
	go func() {
		log.Info("solution stream listening on %s", lis.Addr())
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		srv.Stop()
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Client subscribes to a remote solution stream.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient connects to target without TLS. Extra options are appended.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(Codec{}),
			grpc.MaxCallRecvMsgSize(maxSolutionBytes),
		),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Stream is an open Subscribe call.
type Stream struct {
	cs grpc.ClientStream
}

// Subscribe opens a stream. Cancel ctx to end it.
func (c *Client) Subscribe(ctx context.Context, req SubscribeRequest) (*Stream, error) {
	cs, err := c.conn.NewStream(ctx, &solutionStreamDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(&req); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &Stream{cs: cs}, nil
}

// Recv blocks for the next solution. It returns io.EOF when the server
// ends the stream.
func (s *Stream) Recv() (*mpcmsg.Solution, error) {
	m := new(mpcmsg.Solution)
	if err := s.cs.RecvMsg(m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return m, nil
}
