// Package metrics exposes daemon health and throughput counters over
// Prometheus text exposition format, and mirrors selected events off the
// bus onto those counters so publishers never need to know a collector
// exists.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openbmc/ikvmd/internal/events"
	"github.com/openbmc/ikvmd/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the daemon's Prometheus collectors. A disabled Metrics
// still accepts every call; its methods just write to registered
// collectors that nothing serves, so call sites never branch on whether
// metrics are enabled.
type Metrics struct {
	registry *prometheus.Registry
	log      *slog.Logger

	clientsConnected prometheus.Gauge
	framesSent       prometheus.Counter
	framesDeduped    prometheus.Counter
	videoResizes     prometheus.Counter
	hidWriteFailures prometheus.Counter
	hidWriteRetries  prometheus.Counter
	screenshots      prometheus.Counter
}

// New creates a collector set and, if bus is non-nil, subscribes to the
// events that feed counters this package can't update directly.
func New(bus *events.Bus) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		log:      logging.GetLogger("metrics"),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rfb_clients_connected",
			Help: "Number of RFB clients currently connected.",
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rfb_frames_sent_total",
			Help: "Frames forwarded to at least one RFB client.",
		}),
		framesDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rfb_frames_deduped_total",
			Help: "Frames skipped because their CRC matched the client's last frame.",
		}),
		videoResizes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "video_resizes_total",
			Help: "Capture pipeline resolution changes handled.",
		}),
		hidWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hid_write_failures_total",
			Help: "HID gadget report writes abandoned after exhausting retries.",
		}),
		hidWriteRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hid_write_retries_total",
			Help: "HID gadget report writes retried after EAGAIN.",
		}),
		screenshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "screenshots_total",
			Help: "Screenshots written in response to the D-Bus RPC.",
		}),
	}

	registry.MustRegister(
		m.clientsConnected,
		m.framesSent,
		m.framesDeduped,
		m.videoResizes,
		m.hidWriteFailures,
		m.hidWriteRetries,
		m.screenshots,
	)

	if bus != nil {
		bus.Subscribe(func(e events.HIDWriteFailedEvent) { m.hidWriteFailures.Inc() })
		bus.Subscribe(func(e events.ResizeCompletedEvent) { m.videoResizes.Inc() })
		bus.Subscribe(func(e events.ScreenshotCompletedEvent) {
			if e.Error == "" {
				m.screenshots.Inc()
			}
		})
	}

	return m
}

// SetClientsConnected updates the connected-client gauge.
func (m *Metrics) SetClientsConnected(n int) {
	m.clientsConnected.Set(float64(n))
}

// AddFramesSent increments rfb_frames_sent_total by n.
func (m *Metrics) AddFramesSent(n int) {
	if n > 0 {
		m.framesSent.Add(float64(n))
	}
}

// AddFramesDeduped increments rfb_frames_deduped_total by n.
func (m *Metrics) AddFramesDeduped(n int) {
	if n > 0 {
		m.framesDeduped.Add(float64(n))
	}
}

// IncHIDWriteRetries increments hid_write_retries_total, called once per
// EAGAIN retry attempt.
func (m *Metrics) IncHIDWriteRetries() {
	m.hidWriteRetries.Inc()
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs an HTTP server exposing /metrics on addr until ctx is
// canceled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("metrics server exited", "error", err)
			return err
		}
		return nil
	}
}
