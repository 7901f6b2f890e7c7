package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rzbill/spotsync/internal/relay/wire"
	relaysvc "github.com/rzbill/spotsync/internal/services/relay"
)

// healthInterval is how often the store is re-checked for the health service.
const healthInterval = 5 * time.Second

// watchHealth keeps the relay service's serving status in line with the
// store until ctx is done.
func watchHealth(ctx context.Context, svc *relaysvc.Service, hs *health.Server) {
	update := func() {
		st := healthpb.HealthCheckResponse_SERVING
		if err := svc.CheckHealth(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(wire.ServiceName, st)
		hs.SetServingStatus("", st)
	}
	update()
	t := time.NewTicker(healthInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			update()
		}
	}
}
