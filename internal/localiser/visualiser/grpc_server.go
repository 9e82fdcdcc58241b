package visualiser

import (
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/amsl/laserloc/internal/localiser"
)

// Service and method names on the wire.
const (
	ServiceName               = "laserloc.EstimateService"
	StreamEstimatesMethod     = "StreamEstimates"
	StreamEstimatesFullMethod = "/" + ServiceName + "/" + StreamEstimatesMethod
)

// EstimateServiceServer is the server API for EstimateService.
//
// StreamEstimates takes a request struct with an optional "localiser" string
// field and streams one struct per estimate (see EstimateToStruct).
type EstimateServiceServer interface {
	StreamEstimates(*structpb.Struct, EstimateService_StreamEstimatesServer) error
}

// EstimateService_StreamEstimatesServer is the server side of the stream.
type EstimateService_StreamEstimatesServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type estimateStreamServer struct {
	grpc.ServerStream
}

func (s *estimateStreamServer) Send(m *structpb.Struct) error { return s.ServerStream.SendMsg(m) }

func streamEstimatesHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(EstimateServiceServer).StreamEstimates(req, &estimateStreamServer{stream})
}

// EstimateServiceDesc describes the service for grpc.Server.RegisterService.
var EstimateServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EstimateServiceServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    StreamEstimatesMethod,
			Handler:       streamEstimatesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "laserloc/estimates.proto",
}

// RegisterEstimateServiceServer registers srv on s.
func RegisterEstimateServiceServer(s grpc.ServiceRegistrar, srv EstimateServiceServer) {
	s.RegisterService(&EstimateServiceDesc, srv)
}

// Ensure Server implements the gRPC interface.
var _ EstimateServiceServer = (*Server)(nil)

// Server implements EstimateService on top of a Publisher.
type Server struct {
	publisher *Publisher
}

// NewServer creates a new gRPC server.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// StreamEstimates implements the streaming RPC.
func (s *Server) StreamEstimates(req *structpb.Struct, stream EstimateService_StreamEstimatesServer) error {
	name := req.GetFields()["localiser"].GetStringValue()
	log.Printf("[gRPC] StreamEstimates started: localiser=%q", name)

	client, err := s.publisher.addClient(name)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case est := <-client.ch:
			msg, err := EstimateToStruct(est)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.Send(msg); err != nil {
				log.Printf("[gRPC] send error: %v", err)
				return err
			}
		}
	}
}

// EstimateToStruct encodes an estimate as a flat struct. The timestamp is an
// RFC 3339 string, empty for the zero time.
func EstimateToStruct(e localiser.Estimate) (*structpb.Struct, error) {
	ts := ""
	if !e.Timestamp.IsZero() {
		ts = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return structpb.NewStruct(map[string]any{
		"localiser":   e.Localiser,
		"cycle":       e.Cycle,
		"timestamp":   ts,
		"x":           e.Mean.X,
		"y":           e.Mean.Y,
		"heading":     e.Mean.Heading,
		"speed":       e.Mean.Speed,
		"var_x":       e.Variance.X,
		"var_y":       e.Variance.Y,
		"var_heading": e.Variance.Heading,
		"var_speed":   e.Variance.Speed,
		"score":       e.Score,
		"rays":        e.Rays,
	})
}

// StructToEstimate decodes a struct written by EstimateToStruct.
func StructToEstimate(s *structpb.Struct) (localiser.Estimate, error) {
	f := s.GetFields()
	num := func(k string) float64 { return f[k].GetNumberValue() }
	e := localiser.Estimate{
		Localiser: f["localiser"].GetStringValue(),
		Cycle:     int(num("cycle")),
		Mean:      localiser.Pose{X: num("x"), Y: num("y"), Heading: num("heading"), Speed: num("speed")},
		Variance: localiser.Variance{
			X: num("var_x"), Y: num("var_y"), Heading: num("var_heading"), Speed: num("var_speed"),
		},
		Score: num("score"),
		Rays:  int(num("rays")),
	}
	if ts := f["timestamp"].GetStringValue(); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return localiser.Estimate{}, fmt.Errorf("bad timestamp %q: %w", ts, err)
		}
		e.Timestamp = t
	}
	return e, nil
}
