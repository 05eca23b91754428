package generator

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region interface

// Generator produces candidate hypothesis texts for a context. It has no side
// effects and may return fewer than n candidates.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxLength, n int) ([]string, error)
}

// #endregion interface

// #region client-struct

// Client wraps the gRPC connection to the remote hypothesis model.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor

// NewClient connects to the generator service at addr.
func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn creates a Client over an existing connection.
// Used for testing over bufconn.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// #endregion constructor

// #region close

// Close shuts down the gRPC connection if the client owns it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region generate

// Generate calls the remote model. Candidates past n are dropped.
func (c *Client) Generate(ctx context.Context, prompt string, maxLength, n int) ([]string, error) {
	req, err := encodeRequest(prompt, maxLength, n)
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := c.cc.Invoke(ctx, MethodGenerate, req, resp); err != nil {
		return nil, fmt.Errorf("generate rpc: %w", err)
	}
	candidates, err := decodeCandidates(resp)
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates, nil
}

// #endregion generate
