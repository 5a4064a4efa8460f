// Package flightsql serves guarded duckframe queries over Arrow Flight SQL.
package flightsql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	arrowflight "github.com/apache/arrow-go/v18/arrow/flight"
	arrowflightsql "github.com/apache/arrow-go/v18/arrow/flight/flightsql"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpcHealth "google.golang.org/grpc/health"
	grpcHealthV1 "google.golang.org/grpc/health/grpc_health_v1"

	"duckframe/pkg/duckframe"
)

// ErrNoExecutor is returned by queries against a server built without an
// Executor.
var ErrNoExecutor = errors.New("flight sql query executor is not configured")

// Server is a Flight SQL listener over an Executor.
type Server struct {
	addr    string
	logger  *slog.Logger
	exec    Executor
	version string
	limit   RateLimitConfig

	mu         sync.Mutex
	ln         net.Listener
	grpcServer *grpc.Server
	tickets    *ticketStore
	wg         sync.WaitGroup
}

// NewServer creates a server for addr. It does not listen until Start.
func NewServer(addr string, logger *slog.Logger, exec Executor) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if exec == nil {
		exec = noExecutor{}
	}
	return &Server{addr: addr, logger: logger, exec: exec, version: "dev"}
}

// SetVersion sets the version reported through SqlInfo.
func (s *Server) SetVersion(v string) {
	s.version = v
}

// SetRateLimit limits calls per client address. It takes effect on the next
// Start.
func (s *Server) SetRateLimit(cfg RateLimitConfig) {
	s.limit = cfg
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return fmt.Errorf("flight sql listener already started")
	}

	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen flight sql: %w", err)
	}
	var opts []grpc.ServerOption
	if s.limit.RequestsPerSecond > 0 {
		l := newRateLimiter(s.limit)
		opts = append(opts, grpc.ChainUnaryInterceptor(l.unary), grpc.ChainStreamInterceptor(l.stream))
	}
	grpcSrv := grpc.NewServer(opts...)
	tickets := newTicketStore()
	arrowflight.RegisterFlightServiceServer(grpcSrv, arrowflightsql.NewFlightServer(newQueryServer(s.exec, s.version, tickets)))
	healthSrv := grpcHealth.NewServer()
	healthSrv.SetServingStatus("", grpcHealthV1.HealthCheckResponse_SERVING)
	grpcHealthV1.RegisterHealthServer(grpcSrv, healthSrv)

	s.ln = ln
	s.grpcServer = grpcSrv
	s.tickets = tickets
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := grpcSrv.Serve(ln); err != nil {
			s.logger.Debug("flight sql gRPC server stopped", "error", err)
		}
	}()
	s.logger.Info("Flight SQL listener enabled", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops accepting calls and waits for in-flight ones until ctx ends.
// Results that were never fetched are released.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln, grpcSrv, tickets := s.ln, s.grpcServer, s.tickets
	s.ln, s.grpcServer, s.tickets = nil, nil, nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	defer tickets.close()

	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		grpcSrv.Stop()
		return fmt.Errorf("flight sql shutdown: %w", ctx.Err())
	}
	s.wg.Wait()
	return nil
}

// Run serves until ctx is cancelled, then shuts down within grace.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	if err := s.Start(); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.wg.Wait()
		if ctx.Err() == nil {
			return errors.New("flight sql server stopped unexpectedly")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		s.logger.Info("shutting down Flight SQL listener")
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type noExecutor struct{}

func (noExecutor) SQL(context.Context, string) (*duckframe.DataFrame, error) {
	return nil, ErrNoExecutor
}
