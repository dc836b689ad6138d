package api

import (
	"context"

	"github.com/matheus3301/wxm/internal/bus"
	"github.com/matheus3301/wxm/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter mirrors the daemon lifecycle into the standard gRPC health
// service. The daemon reports SERVING only while it is syncing.
type HealthReporter struct {
	server  *health.Server
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHealthReporter creates a reporter; call Start to follow state changes.
func NewHealthReporter(b *bus.Bus, machine *status.Machine, logger *zap.Logger) *HealthReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthReporter{
		server:  health.NewServer(),
		bus:     b,
		machine: machine,
		logger:  logger,
	}
	h.set(machine.Current())
	return h
}

// Server returns the health service implementation to register.
func (h *HealthReporter) Server() *health.Server {
	return h.server
}

// Start follows lifecycle events published on the bus.
func (h *HealthReporter) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	ch, unsub := h.bus.Subscribe("session.", 16)
	// A transition may have happened before the subscription.
	h.set(h.machine.Current())

	go func() {
		defer close(h.done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-ch:
				if change, ok := evt.Payload.(status.StatusChange); ok {
					h.set(change.To)
				}
			}
		}
	}()
}

// Stop marks every service NOT_SERVING and stops following events.
func (h *HealthReporter) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	h.server.Shutdown()
}

func (h *HealthReporter) set(s status.State) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s == status.Syncing {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", st)
	h.server.SetServingStatus(MirrorServiceName, st)
	h.logger.Debug("health updated", zap.String("state", string(s)), zap.String("health", st.String()))
}
