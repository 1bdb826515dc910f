package grpc

import (
	"context"
	"crypto/tls"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// Client is the outbound transport this module shares across every
// publisher (MemberStatus, ServiceControl, Ingress, Egress-subscribe).
// Connections are cached per address through a ConnManager, kept from the
// teacher's client.go.
type Client struct {
	timeout time.Duration
	tlsCfg  *tls.Config
	cm      *ConnManager
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{timeout: timeout}
}

func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dialCtx(ctx context.Context, target string) (*grpc.ClientConn, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
		grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
		grpc.WithBlock(),
	}
	if c.tlsCfg != nil {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return grpc.DialContext(ctx, target, opts...)
}

func (c *Client) getConn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
	if c.cm == nil {
		c.cm = NewConnManager(30*time.Second, c.dialCtx)
	}
	return c.cm.Get(ctx, addr)
}

// call invokes method against addr, returning false (never an error) on any
// failure — every publisher in this module treats send failure as
// back-pressure to retry next tick (spec.md §4.9), never as a fatal error.
func (c *Client) call(ctx context.Context, addr, method string, req, resp interface{}) bool {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cc, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return false
	}
	defer rel()
	return cc.Invoke(cctx, method, req, resp) == nil
}

// connected reports whether a connection to addr can be established within
// the client's timeout, without invoking any RPC method.
func (c *Client) connected(ctx context.Context, addr string) bool {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, rel, err := c.getConn(cctx, addr)
	if err != nil {
		return false
	}
	rel()
	return true
}

func (c *Client) Close() {
	if c.cm != nil {
		c.cm.Close()
	}
}
