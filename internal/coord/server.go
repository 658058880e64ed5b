package coord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	coordproto "queryplane/internal/coord/proto"
	"queryplane/internal/domain"
)

// TunnelService answers tunnel requests for queries running on this node:
// the live foreman first, the profile store as fallback.
type TunnelService struct {
	coordproto.UnimplementedJobsTunnelServer

	foreman  domain.ForemanTool
	profiles domain.ProfileStore
	logger   *slog.Logger
}

// NewTunnelService creates a TunnelService.
func NewTunnelService(foreman domain.ForemanTool, profiles domain.ProfileStore, logger *slog.Logger) *TunnelService {
	return &TunnelService{
		foreman:  foreman,
		profiles: profiles,
		logger:   logger.With("component", "jobs-tunnel"),
	}
}

// RequestQueryProfile serves the profile of a query this node ran or is
// running.
func (s *TunnelService) RequestQueryProfile(ctx context.Context, req *coordproto.QueryProfileRequest) (*coordproto.QueryProfileResponse, error) {
	id := externalIDFromProto(req.QueryId)

	if profile, ok := s.foreman.RunningProfile(id); ok {
		return &coordproto.QueryProfileResponse{Profile: profileToProto(profile)}, nil
	}

	attemptID := domain.AttemptID{Job: id.JobID(), Num: int(req.Attempt)}
	profile, err := s.profiles.Get(ctx, attemptID)
	if err != nil {
		if errors.As(err, new(*domain.NotFoundError)) {
			return nil, status.Errorf(codes.NotFound, "query %s not found", id)
		}
		return nil, status.Errorf(codes.Internal, "load profile: %v", err)
	}
	return &coordproto.QueryProfileResponse{Profile: profileToProto(profile)}, nil
}

// RequestCancelQuery cancels a query running on this node.
func (s *TunnelService) RequestCancelQuery(_ context.Context, req *coordproto.CancelQueryRequest) (*coordproto.Ack, error) {
	id := externalIDFromProto(req.QueryId)

	if s.foreman.CancelLocal(id) {
		s.logger.Info("cancelled query on tunnel request", "query_id", id.String())
		return &coordproto.Ack{Ok: true}, nil
	}
	return &coordproto.Ack{Ok: false, Message: fmt.Sprintf("no query %s running on this node", id)}, nil
}

// Server is the tunnel listener.
type Server struct {
	addr    string
	service *TunnelService
	logger  *slog.Logger

	mu         sync.Mutex
	ln         net.Listener
	grpcServer *grpc.Server
	wg         sync.WaitGroup
}

// NewServer creates the tunnel listener on addr.
func NewServer(addr string, service *TunnelService, logger *slog.Logger) *Server {
	return &Server{addr: addr, service: service, logger: logger.With("component", "tunnel-server")}
}

// Start begins accepting tunnel connections.
func (s *Server) Start() error {
	EnsureGRPCJSONCodec()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return fmt.Errorf("tunnel listener already started")
	}

	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen tunnel: %w", err)
	}

	grpcSrv := grpc.NewServer()
	coordproto.RegisterJobsTunnelServer(grpcSrv, s.service)

	s.ln = ln
	s.grpcServer = grpcSrv
	s.wg.Add(1)
	go s.serveLoop()
	s.logger.Info("tunnel listener started", "addr", ln.Addr().String())
	return nil
}

func (s *Server) serveLoop() {
	defer s.wg.Done()
	if err := s.grpcServer.Serve(s.ln); err != nil {
		s.logger.Error("tunnel serve stopped", "error", err)
	}
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the listener, draining in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	grpcSrv := s.grpcServer
	s.ln = nil
	s.grpcServer = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		grpcSrv.Stop()
		return fmt.Errorf("tunnel shutdown: %w", ctx.Err())
	case <-time.After(5 * time.Second):
		grpcSrv.Stop()
	}

	s.wg.Wait()
	return nil
}
