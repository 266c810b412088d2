package health

import (
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported for the gatekeeper.
const ServiceName = "fangate.Gatekeeper"

// NewGRPCServer returns a standard grpc.health.v1 server that starts as
// NOT_SERVING, plus a ReadinessFunc that keeps it in sync with a Checker.
func NewGRPCServer() (*health.Server, ReadinessFunc) {
	srv := health.NewServer()
	srv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	srv.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return srv, func(ready bool) {
		status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
		if ready {
			status = grpc_health_v1.HealthCheckResponse_SERVING
		}
		srv.SetServingStatus("", status)
		srv.SetServingStatus(ServiceName, status)
	}
}
