package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/ChuLiYu/judge-engine/internal/service"
)

// Client calls judge.v1.ExecutionService.
type Client struct {
	conn   *grpc.ClientConn
	secret string
}

// NewClient connects to target without transport security. opts are applied
// after the defaults.
func NewClient(target, secret string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, secret: secret}, nil
}

// Execute judges req remotely.
func (c *Client) Execute(ctx context.Context, req *service.ExecuteRequest) (*service.ExecuteResponse, error) {
	out := new(service.ExecuteResponse)
	if err := c.conn.Invoke(c.outgoing(ctx), executeMethod, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health fetches the remote health document.
func (c *Client) Health(ctx context.Context) (*service.HealthResponse, error) {
	out := new(service.HealthResponse)
	if err := c.conn.Invoke(ctx, healthMethod, &HealthRequest{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) outgoing(ctx context.Context) context.Context {
	if c.secret == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, SecretMetadataKey, c.secret)
}
