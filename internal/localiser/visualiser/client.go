package visualiser

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/amsl/laserloc/internal/localiser"
)

// Client consumes the estimate stream.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient connects to target. Without options the connection is
// plaintext, which is what Publisher serves.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// EstimateStream is an open StreamEstimates call.
type EstimateStream struct {
	stream grpc.ClientStream
}

// StreamEstimates opens a stream. An empty localiserName receives every
// localiser's estimates.
func (c *Client) StreamEstimates(ctx context.Context, localiserName string) (*EstimateStream, error) {
	stream, err := c.conn.NewStream(ctx, &EstimateServiceDesc.Streams[0], StreamEstimatesFullMethod)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"localiser": localiserName})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EstimateStream{stream: stream}, nil
}

// Recv blocks for the next estimate. It returns io.EOF when the server ends
// the stream.
func (s *EstimateStream) Recv() (localiser.Estimate, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return localiser.Estimate{}, err
	}
	return StructToEstimate(msg)
}
