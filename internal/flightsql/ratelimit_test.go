package flightsql

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcHealthV1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func TestRateLimiter_PerClientBurst(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "clients have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.allow("10.0.0.1"))
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := newRateLimiter(RateLimitConfig{RequestsPerSecond: 1})
	l.now = func() time.Time { return now }

	require.True(t, l.allow("a"))
	now = now.Add(limiterIdle + limiterSweep + time.Second)
	require.True(t, l.allow("b"))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "a")
	assert.Contains(t, l.clients, "b")
}

func TestClientAddr(t *testing.T) {
	assert.Empty(t, clientAddr(context.Background()))

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5555}})
	assert.Equal(t, "127.0.0.1", clientAddr(ctx))
}

func TestServer_RateLimit(t *testing.T) {
	srv := NewServer("127.0.0.1:0", slog.New(slog.DiscardHandler), nil)
	srv.SetRateLimit(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		_ = srv.Shutdown(context.Background())
	})

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	health := grpcHealthV1.NewHealthClient(conn)
	_, err = health.Check(ctx, &grpcHealthV1.HealthCheckRequest{})
	require.NoError(t, err)
	_, err = health.Check(ctx, &grpcHealthV1.HealthCheckRequest{})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}
