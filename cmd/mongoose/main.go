// Command mongoose launches a demo embedding of the event dispatch fabric:
// a heartbeat source fanned out to a console sink, with Prometheus and
// optional OTLP metrics export.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telaminai/mongoose/config"
	"github.com/telaminai/mongoose/internal/agent"
	"github.com/telaminai/mongoose/internal/events"
	"github.com/telaminai/mongoose/internal/observability"
	"github.com/telaminai/mongoose/internal/processor"
	"github.com/telaminai/mongoose/internal/publisher"
	"github.com/telaminai/mongoose/internal/server"
	"github.com/telaminai/mongoose/lib/async"
	"github.com/telaminai/mongoose/lib/telemetry"
)

const (
	defaultConfigPath    = "config/app.yaml"
	metricsFlushInterval = 10 * time.Second
	shutdownTimeout      = 10 * time.Second
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	metricsAddr := flag.String("metrics-addr", ":9100", "listen address for the Prometheus endpoint (empty disables)")
	flag.Parse()

	logger := log.New(os.Stderr, "mongoose ", log.LstdFlags|log.Lmsgprefix)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, loadedFromFile, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}

	observability.SetErrorSink(observability.NewInMemoryErrorSink(cfg.ErrorHistorySize))

	promMetrics := observability.NewPrometheusMetrics(nil)
	observability.SetMetrics(promMetrics)

	_, telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
	})
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	srv := server.New()
	if err := srv.Flow().SetQueueCapacity(cfg.QueueCapacity); err != nil {
		logger.Fatalf("configure queue capacity: %v", err)
	}

	heartbeat := newHeartbeatSource(500 * time.Millisecond)
	if err := srv.RegisterEventSource("heartbeat", heartbeat); err != nil {
		logger.Fatalf("register source: %v", err)
	}

	sink := processor.NewSink("console",
		func(value any) { logger.Printf("event: %v", value) },
		nil,
		events.SubscriptionKey{SourceName: "heartbeat", CallbackType: events.GenericCallbackType},
	)
	if err := srv.AddSink("output", agent.IdleStrategyFor(string(cfg.DefaultIdleStrategy)), sink); err != nil {
		logger.Fatalf("register sink: %v", err)
	}

	if err := srv.Start(); err != nil {
		logger.Fatalf("start server: %v", err)
	}
	logger.Printf("dispatch fabric started: sources=%d", len(srv.Flow().SourceNames()))

	maintenance, err := async.NewExecutor("maintenance", 1, 4)
	if err != nil {
		logger.Fatalf("initialise maintenance executor: %v", err)
	}
	go flushMetricsLoop(ctx, maintenance, srv)

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promMetrics.Registry(), promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Printf("shutdown signal received")

	heartbeat.Stop()
	srv.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := maintenance.Drain(shutdownCtx); err != nil {
		logger.Printf("maintenance executor drain: %v", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("metrics server shutdown: %v", err)
		}
	}
	if err := telemetryShutdown(shutdownCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}
	logger.Printf("shutdown complete")
}

// flushMetricsLoop periodically exports queue depths through the global
// metrics collector via the bounded maintenance executor.
func flushMetricsLoop(ctx context.Context, maintenance *async.Executor, srv *server.Server) {
	ticker := time.NewTicker(metricsFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = maintenance.Submit(ctx, "flush-queue-metrics", func(context.Context) error {
				for _, info := range srv.Flow().QueueSnapshot() {
					labels := map[string]string{"source": info.Source, "queue": info.Name}
					observability.Telemetry().SetGauge("queue_depth", float64(info.Depth), labels)
					observability.Telemetry().SetGauge("queue_capacity", float64(info.Capacity), labels)
				}
				return nil
			})
		}
	}
}

// heartbeatSource publishes an incrementing counter on a fixed interval
// from its own producer goroutine.
type heartbeatSource struct {
	interval time.Duration
	pub      *publisher.Publisher
	stop     chan struct{}
	stopped  chan struct{}
}

func newHeartbeatSource(interval time.Duration) *heartbeatSource {
	return &heartbeatSource{
		interval: interval,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// SetPublisher receives the publisher from the flow manager.
func (h *heartbeatSource) SetPublisher(pub *publisher.Publisher) { h.pub = pub }

// Init is part of the source lifecycle fan-out.
func (h *heartbeatSource) Init() error { return nil }

// Start launches the producer goroutine.
func (h *heartbeatSource) Start() error {
	go h.run()
	return nil
}

func (h *heartbeatSource) run() {
	defer close(h.stopped)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			seq++
			h.pub.Publish(fmt.Sprintf("heartbeat-%d", seq))
		}
	}
}

// Stop terminates the producer goroutine and waits for it to exit.
func (h *heartbeatSource) Stop() {
	close(h.stop)
	<-h.stopped
}
