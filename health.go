// health.go: gRPC health reporting of watcher liveness
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter publishes whether a watcher has a live plugin instance
// through the standard gRPC health service, so tooling around a long-running
// development host can tell a broken rebuild from a dead process.
//
// A failed reload keeps the service SERVING as long as the previous instance
// is still current; only an unloaded or closed watcher reports NOT_SERVING.
//
// Example usage:
//
//	reporter := heimdall.NewHealthReporter("game.logic")
//	watcher.OnEvent(reporter.Handle)
//	reporter.Register(grpcServer)
type HealthReporter struct {
	server  *health.Server
	service string
}

// NewHealthReporter creates a reporter for service, initially NOT_SERVING.
func NewHealthReporter(service string) *HealthReporter {
	server := health.NewServer()
	server.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthReporter{server: server, service: service}
}

// Handle updates the serving status from a watcher event. It matches
// EventHandler.
func (h *HealthReporter) Handle(event WatchEvent) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if event.Live && event.Type != EventClosed {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(h.service, status)
}

// Status returns the current serving status.
func (h *HealthReporter) Status(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.server.Check(ctx, &healthpb.HealthCheckRequest{Service: h.service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Register exposes the health service on s.
func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}
