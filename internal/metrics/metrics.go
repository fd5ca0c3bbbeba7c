// Package metrics records daemon activity in prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Recorder holds the daemon collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	connections   prometheus.Counter
	active        prometheus.Gauge
	frames        *prometheus.CounterVec
	frameBytes    prometheus.Histogram
	decodeErrors  *prometheus.CounterVec
	rejectedConns prometheus.Counter
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daima",
			Name:      "connections_total",
			Help:      "Accepted IPC connections.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "daima",
			Name:      "connections_active",
			Help:      "IPC connections currently served.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daima",
			Name:      "frames_total",
			Help:      "Frames decoded, by message type.",
		}, []string{"type"}),
		frameBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "daima",
			Name:      "frame_payload_bytes",
			Help:      "Payload size of decoded frames.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "daima",
			Name:      "decode_errors_total",
			Help:      "Connections closed because of protocol or payload errors.",
		}, []string{"reason"}),
		rejectedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "daima",
			Name:      "connections_rejected_total",
			Help:      "Connections refused because max_clients was reached.",
		}),
	}
	r.registry.MustRegister(r.connections, r.active, r.frames, r.frameBytes, r.decodeErrors, r.rejectedConns)
	return r
}

func (r *Recorder) ConnectionOpened() {
	if r == nil {
		return
	}
	r.connections.Inc()
	r.active.Inc()
}

func (r *Recorder) ConnectionClosed() {
	if r == nil {
		return
	}
	r.active.Dec()
}

func (r *Recorder) ConnectionRejected() {
	if r == nil {
		return
	}
	r.rejectedConns.Inc()
}

func (r *Recorder) FrameDecoded(messageType string, payloadBytes int) {
	if r == nil {
		return
	}
	r.frames.WithLabelValues(messageType).Inc()
	r.frameBytes.Observe(float64(payloadBytes))
}

func (r *Recorder) DecodeFailed(reason string) {
	if r == nil {
		return
	}
	r.decodeErrors.WithLabelValues(reason).Inc()
}

// Registry exposes the collectors, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	log.Info().Str("addr", addr).Msg("metrics listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
