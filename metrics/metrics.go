// Package metrics exposes the engine's Prometheus series: one series (a
// gauge, counter or histogram) per component health/throughput signal named
// in spec.md §6's operational
// surface, grounded on services/metrics.go's registry-per-service shape
// but repurposed from per-chain subscription health to per-component
// engine health.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/intenus/preranking/logging"
)

// Service owns the engine's Prometheus registry and exposes it over HTTP
// when started; it never fails any caller's operation, since metrics are
// observability, not a domain dependency.
type Service struct {
	registry *prometheus.Registry
	log      zerolog.Logger

	activeIntentCount    prometheus.Gauge
	eventsProcessedTotal *prometheus.CounterVec
	constraintFailures   *prometheus.CounterVec
	pipelineLatency      *prometheus.HistogramVec
	pipelineOutcomes     *prometheus.CounterVec
}

func New(log zerolog.Logger) *Service {
	registry := prometheus.NewRegistry()

	activeIntentCount := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "preranking_active_intent_count",
		Help: "Number of intents currently open (ACCEPTING or FLUSHING).",
	})
	eventsProcessedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "preranking_events_processed_total",
		Help: "Total events handed off to the coordinator, by kind.",
	}, []string{"kind"})
	constraintFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "preranking_constraint_failures_total",
		Help: "Total constraint-validation failures, by failure reason.",
	}, []string{"reason"})
	pipelineLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "preranking_pipeline_latency_seconds",
		Help:    "Per-solution pipeline run duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	pipelineOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "preranking_pipeline_outcomes_total",
		Help: "Pipeline outcomes, by pass/fail.",
	}, []string{"outcome"})

	registry.MustRegister(
		activeIntentCount,
		eventsProcessedTotal,
		constraintFailures,
		pipelineLatency,
		pipelineOutcomes,
	)

	return &Service{
		registry:             registry,
		log:                  logging.Module(log, "metrics"),
		activeIntentCount:    activeIntentCount,
		eventsProcessedTotal: eventsProcessedTotal,
		constraintFailures:   constraintFailures,
		pipelineLatency:      pipelineLatency,
		pipelineOutcomes:     pipelineOutcomes,
	}
}

// SetActiveIntentCount records the current coordinator active-intents size.
func (s *Service) SetActiveIntentCount(n int) {
	s.activeIntentCount.Set(float64(n))
}

// ObserveEventProcessed increments the per-kind event counter.
func (s *Service) ObserveEventProcessed(kind string) {
	s.eventsProcessedTotal.WithLabelValues(kind).Inc()
}

// ObserveConstraintFailure increments the per-reason constraint-failure
// counter.
func (s *Service) ObserveConstraintFailure(reason string) {
	s.constraintFailures.WithLabelValues(reason).Inc()
}

// ObservePipelineRun records a completed pipeline invocation's duration and
// outcome.
func (s *Service) ObservePipelineRun(passed bool, duration time.Duration) {
	outcome := "fail"
	if passed {
		outcome = "pass"
	}
	s.pipelineLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	s.pipelineOutcomes.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus exposition HTTP handler.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Serve starts a minimal net/http server exposing /metrics on addr and
// blocks until ctx is cancelled, mirroring the teacher's
// MetricsService.GetHandler usage but owning its own listener rather than
// sharing the admin gin router, since the admin surface is out of scope
// here beyond the operational read-only routes in httpstatus.
func (s *Service) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())

	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("metrics server stopped unexpectedly")
			return err
		}
		return nil
	}
}
