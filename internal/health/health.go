// Package health exposes store reachability over the standard gRPC health protocol.
package health

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported alongside the overall ("") status.
const ServiceName = "rolecall.Roleplay"

const pingTimeout = 3 * time.Second

// Pinger is anything whose reachability decides the serving status.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor keeps a gRPC health server in step with the store.
type Monitor struct {
	server *grpchealth.Server
	store  Pinger
	logger *slog.Logger
}

// NewMonitor creates a monitor. Status starts as NOT_SERVING until the first probe.
func NewMonitor(store Pinger, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{server: grpchealth.NewServer(), store: store, logger: logger}
	m.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return m
}

// Register attaches the health service to a gRPC server.
func (m *Monitor) Register(s *grpc.Server) {
	grpc_health_v1.RegisterHealthServer(s, m.server)
}

// Server returns the underlying health server.
func (m *Monitor) Server() grpc_health_v1.HealthServer {
	return m.server
}

// Probe pings the store once and publishes the result.
func (m *Monitor) Probe(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := m.store.Ping(ctx); err != nil {
		m.logger.Warn("Store ping failed", "error", err)
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	m.set(status)
	return status
}

// Run probes immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.logger.Info("Health monitor started", "interval", interval)

	m.Probe(ctx)
	for {
		select {
		case <-ticker.C:
			m.Probe(ctx)
		case <-ctx.Done():
			m.logger.Info("Health monitor shutting down", "reason", ctx.Err())
			return
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (m *Monitor) Shutdown() {
	m.server.Shutdown()
}

func (m *Monitor) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	m.server.SetServingStatus("", status)
	m.server.SetServingStatus(ServiceName, status)
}
