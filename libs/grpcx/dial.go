package grpcx

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	// Nil means plaintext, for in-cluster traffic behind a mesh.
	TransportCredentials grpc.DialOption
}

// NewClient builds a lazily connecting client with tracing and request-id propagation.
func NewClient(target string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := opts.TransportCredentials
	if creds == nil {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	dialOpts := append([]grpc.DialOption{
		creds,
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
	}, extra...)
	return grpc.NewClient(target, dialOpts...)
}
