package coord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	coordproto "queryplane/internal/coord/proto"
	"queryplane/internal/domain"
)

// tunnelTimeout bounds every tunnel round trip so a dead peer cannot wedge a
// user-facing request.
const tunnelTimeout = 15 * time.Second

var (
	_ domain.Tunnel        = (*grpcTunnel)(nil)
	_ domain.TunnelCreator = (*TunnelCreator)(nil)
)

type grpcTunnel struct {
	client coordproto.JobsTunnelClient
}

func (t *grpcTunnel) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, tunnelTimeout)
}

// RequestQueryProfile fetches the profile of a query running on the peer.
// A NotFoundError means the peer does not know the query.
func (t *grpcTunnel) RequestQueryProfile(ctx context.Context, id domain.ExternalID, attempt int) (*domain.QueryProfile, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	out, err := t.client.RequestQueryProfile(ctx, &coordproto.QueryProfileRequest{
		QueryId: externalIDToProto(id),
		Attempt: int32(attempt),
	})
	if err != nil {
		return nil, normalizeTunnelError(err)
	}
	profile := profileFromProto(out.Profile)
	if profile == nil {
		return nil, domain.ErrNotFound("profile for query %s not found on peer", id)
	}
	return profile, nil
}

// RequestCancelQuery asks the peer to cancel a query it is running.
func (t *grpcTunnel) RequestCancelQuery(ctx context.Context, id domain.ExternalID) (*domain.Ack, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	out, err := t.client.RequestCancelQuery(ctx, &coordproto.CancelQueryRequest{
		QueryId: externalIDToProto(id),
	})
	if err != nil {
		return nil, normalizeTunnelError(err)
	}
	return &domain.Ack{OK: out.Ok, Message: out.Message}, nil
}

// normalizeTunnelError maps gRPC status codes onto domain errors so callers
// need not know the transport.
func normalizeTunnelError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return domain.ErrNotFound("%s", st.Message())
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return err
	}
}

// TunnelCreator dials and caches one connection per peer endpoint.
type TunnelCreator struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewTunnelCreator creates a TunnelCreator.
func NewTunnelCreator() *TunnelCreator {
	EnsureGRPCJSONCodec()
	return &TunnelCreator{conns: make(map[string]*grpc.ClientConn)}
}

// Tunnel returns a tunnel to the given peer, reusing an existing connection
// when one is cached.
func (c *TunnelCreator) Tunnel(endpoint domain.NodeEndpoint) (domain.Tunnel, error) {
	conn, err := c.conn(endpoint)
	if err != nil {
		return nil, err
	}
	return &grpcTunnel{client: coordproto.NewJobsTunnelClient(conn)}, nil
}

func (c *TunnelCreator) conn(endpoint domain.NodeEndpoint) (*grpc.ClientConn, error) {
	target := endpoint.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[target]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpcJSONCodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial peer %s: %w", target, err)
	}
	c.conns[target] = conn
	return conn, nil
}

// Close closes all cached peer connections.
func (c *TunnelCreator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for target, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close peer conn %s: %w", target, err)
		}
		delete(c.conns, target)
	}
	return firstErr
}
