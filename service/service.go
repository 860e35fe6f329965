// Package service hosts the optional healthz and metrics HTTP servers
// used for long CI runs.
package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-suite/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	MetricsHost = "0.0.0.0"
)

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer

	healthzPort int
	metricsPort int
}

func New(healthzPort, metricsPort int) *Service {
	s := &Service{
		Healthz:     &HealthzServer{},
		Metrics:     &MetricsServer{},
		healthzPort: healthzPort,
		metricsPort: metricsPort,
	}
	return s
}

func (s *Service) Start(ctx context.Context) {
	log.Info("service starting")

	go func() {
		addr := net.JoinHostPort(HealthzHost, strconv.Itoa(s.healthzPort))
		log.Info("starting healthz server", "addr", addr)
		if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("error starting healthz server", "err", err)
			metrics.RecordErrorDetails("error starting healthz server", err)
		}
	}()

	go func() {
		addr := net.JoinHostPort(MetricsHost, strconv.Itoa(s.metricsPort))
		log.Info("starting metrics server", "addr", addr)
		if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("error starting metrics server", "err", err)
			metrics.RecordErrorDetails("error starting metrics server", err)
		}
	}()

	log.Info("service started")
}

func (s *Service) Shutdown() {
	log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	log.Info("metrics stopped")

	log.Info("service stopped")
}
