// Package grpchealth implements C12: exposes C3's cached health verdict
// over the standard gRPC health-checking protocol, for orchestrators
// (Kubernetes, load balancers) that poll grpc.health.v1.Health rather
// than the HTTP /healthz surface.
package grpchealth

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/hrygo/dbgtoolsrv/internal/logging"
)

// ServiceName is the service identifier reported for the debugger
// session's health, mirroring the HTTP /healthz semantics.
const ServiceName = "dbgtoolsrv.debugger"

const pushInterval = 10 * time.Second

// HealthSource is the subset of health.Monitor's surface this package
// depends on.
type HealthSource interface {
	IsHealthy() bool
}

// Pusher periodically mirrors a HealthSource's verdict into a gRPC
// health.Server's serving-status table.
type Pusher struct {
	source HealthSource
	server *health.Server
	log    *logging.Logger

	stop chan struct{}
	done chan struct{}
}

// New builds a Pusher. Call Register to attach it to a *grpc.Server,
// and Start to begin the background push loop.
func New(source HealthSource, log *logging.Logger) *Pusher {
	if log == nil {
		log = logging.Default()
	}
	return &Pusher{
		source: source,
		server: health.NewServer(),
		log:    log,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Register wires the underlying health.Server into srv under the
// standard grpc.health.v1.Health service name.
func (p *Pusher) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, p.server)
}

// Start begins the background loop pushing source.IsHealthy() into the
// health server's serving-status table for ServiceName, roughly every
// pushInterval. Safe to call once; Stop ends the loop.
func (p *Pusher) Start(ctx context.Context) {
	p.push()
	go p.run(ctx)
}

func (p *Pusher) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.push()
		}
	}
}

func (p *Pusher) push() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if p.source != nil && p.source.IsHealthy() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	p.server.SetServingStatus(ServiceName, status)
	p.log.Debug("pushed grpc health status", "service", ServiceName, "status", status.String())
}

// Stop ends the background push loop and blocks until it has exited.
func (p *Pusher) Stop() {
	close(p.stop)
	<-p.done
}
