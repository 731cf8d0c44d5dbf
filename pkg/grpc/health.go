package grpc

import (
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer wraps the gRPC health server. The overall status ("") and
// each registered service move together with SetReady.
type HealthServer struct {
	server   *health.Server
	services []string
}

// NewHealthServer creates a health server reporting NOT_SERVING for the
// given services until SetReady(true).
func NewHealthServer(services ...string) *HealthServer {
	h := &HealthServer{
		server:   health.NewServer(),
		services: append([]string{""}, services...),
	}
	h.SetReady(false)
	return h
}

// SetReady switches every tracked service between SERVING and NOT_SERVING.
func (h *HealthServer) SetReady(ready bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ready {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	for _, svc := range h.services {
		h.server.SetServingStatus(svc, status)
	}
}

// SetServingStatus sets the serving status for a service
func (h *HealthServer) SetServingStatus(service string, status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus(service, status)
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}

// Resume resumes the health server
func (h *HealthServer) Resume() {
	h.server.Resume()
}

// GetServer returns the underlying health server for registration
func (h *HealthServer) GetServer() *health.Server {
	return h.server
}
