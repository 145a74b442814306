package handler

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CartServiceName is the service name reported to gRPC health clients next to
// the overall "" entry.
const CartServiceName = "gentlecorp.shoppingcart.v1.CartService"

const probeTimeout = 2 * time.Second

// Probe checks one backing dependency.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthReporter publishes dependency health over the standard gRPC health
// protocol and to the HTTP health endpoint.
type HealthReporter struct {
	server   *health.Server
	probes   []Probe
	interval time.Duration
	healthy  atomic.Bool
	logger   *zap.Logger
}

func NewHealthReporter(interval time.Duration, logger *zap.Logger, probes ...Probe) *HealthReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthReporter{
		server:   health.NewServer(),
		probes:   probes,
		interval: interval,
		logger:   logger,
	}
	h.healthy.Store(true)
	return h
}

func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Run probes until ctx is done.
func (h *HealthReporter) Run(ctx context.Context) {
	h.CheckOnce(ctx)
	if h.interval <= 0 {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs every probe and updates the serving status.
func (h *HealthReporter) CheckOnce(ctx context.Context) bool {
	ok := true
	for _, p := range h.probes {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Check(pctx)
		cancel()
		if err != nil {
			ok = false
			h.logger.Warn("health probe failed", zap.String("probe", p.Name), zap.Error(err))
		}
	}

	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(CartServiceName, status)

	if h.healthy.Swap(ok) != ok {
		h.logger.Info("health status changed", zap.Bool("healthy", ok))
	}
	return ok
}

func (h *HealthReporter) Healthy() bool {
	return h.healthy.Load()
}

// Shutdown flips every service to NOT_SERVING.
func (h *HealthReporter) Shutdown() {
	h.healthy.Store(false)
	h.server.Shutdown()
}
