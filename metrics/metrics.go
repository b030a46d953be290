// Package metrics exposes Prometheus collectors for the receiver. Every
// method is safe to call on a nil *Collectors, which records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Download outcomes.
const (
	OutcomeDownloaded = "downloaded"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
)

// Collectors groups the receiver's metrics.
type Collectors struct {
	pending   prometheus.Gauge
	downloads *prometheus.CounterVec
	attempts  prometheus.Counter
	notes     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cpexport_pending_downloads",
			Help: "Image download tasks dispatched but not yet resolved.",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cpexport_image_downloads_total",
			Help: "Image download tasks by final outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cpexport_image_fetch_attempts_total",
			Help: "Individual image fetch attempts, including retries.",
		}),
		notes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cpexport_notes_total",
			Help: "Ingestion requests by result status.",
		}, []string{"status"}),
	}

	reg.MustRegister(c.pending, c.downloads, c.attempts, c.notes)
	return c
}

// AddPending moves the pending gauge by delta.
func (c *Collectors) AddPending(delta int) {
	if c == nil {
		return
	}
	c.pending.Add(float64(delta))
}

// DownloadFinished counts one resolved task.
func (c *Collectors) DownloadFinished(outcome string) {
	if c == nil {
		return
	}
	c.downloads.WithLabelValues(outcome).Inc()
}

// FetchAttempted counts one fetch attempt.
func (c *Collectors) FetchAttempted() {
	if c == nil {
		return
	}
	c.attempts.Inc()
}

// NoteHandled counts one ingestion request by status ("success"/"error").
func (c *Collectors) NoteHandled(status string) {
	if c == nil {
		return
	}
	c.notes.WithLabelValues(status).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
