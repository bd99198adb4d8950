// Package monitor exposes a running job over HTTP: the latest snapshot as
// JSON, a server-sent event feed of every change, and Prometheus metrics.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"sync"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mastercactapus/grblsend/machine/grbl"
)

// StateChannel is the SSE channel carrying snapshots.
const StateChannel = "/events/state"

// Snapshot is the monitor's view of the current job.
type Snapshot struct {
	JobID     string
	Updated   time.Time
	State     grbl.State
	Sent      int
	Remaining int
	LastSent  string       `json:",omitempty"`
	Result    *grbl.Result `json:",omitempty"`
}

// Monitor records driver events and serves them over HTTP.
type Monitor struct {
	http.Handler

	log *slog.Logger
	sse *sse.Server
	reg *prometheus.Registry

	linesSent prometheus.Counter
	remaining prometheus.Gauge
	responses *prometheus.CounterVec
	faults    *prometheus.CounterVec
	jobs      *prometheus.CounterVec
	duration  prometheus.Histogram

	mx   sync.RWMutex
	snap Snapshot
}

// New creates a Monitor with its own metrics registry.
func New(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := &Monitor{
		log: logger,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
		reg: prometheus.NewRegistry(),

		linesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grblsend_lines_sent_total",
			Help: "Command lines written to the controller.",
		}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "grblsend_lines_remaining",
			Help: "Command lines left in the job buffer.",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grblsend_responses_total",
			Help: "Lines received from the controller by class.",
		}, []string{"kind"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grblsend_faults_total",
			Help: "Jobs ended by a fault, by fault kind.",
		}, []string{"kind"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grblsend_jobs_total",
			Help: "Finished jobs by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grblsend_job_duration_seconds",
			Help:    "Wall time of finished jobs.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
	m.reg.MustRegister(m.linesSent, m.remaining, m.responses, m.faults, m.jobs, m.duration)

	r := mux.NewRouter()
	r.HandleFunc("/api/state", m.getState).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})).Methods("GET")
	r.PathPrefix("/events/").Handler(m.sse).Methods("GET")
	r.Use(m.logRequests)
	m.Handler = r

	return m
}

func (m *Monitor) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		m.log.Debug("http request", "method", req.Method, "path", req.URL.Path, "remote", req.RemoteAddr)
		next.ServeHTTP(w, req)
	})
}

// Snapshot returns the latest recorded job view.
func (m *Monitor) Snapshot() Snapshot {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return m.snap
}

// Observe records e. It is safe to use as a grbl.Config OnEvent hook.
func (m *Monitor) Observe(e grbl.Event) {
	switch e.Kind {
	case grbl.EventSent:
		m.linesSent.Inc()
	case grbl.EventReceived:
		m.responses.WithLabelValues(e.Response.Kind.String()).Inc()
	case grbl.EventDone:
		if e.Result != nil {
			m.jobs.WithLabelValues(string(e.Result.Outcome)).Inc()
			m.duration.Observe(e.Result.Duration.Seconds())
			if e.Result.Fault != nil {
				m.faults.WithLabelValues(string(e.Result.Fault.Kind)).Inc()
			}
		}
	}
	m.remaining.Set(float64(e.Remaining))

	m.mx.Lock()
	m.snap.JobID = e.JobID
	m.snap.Updated = e.Time
	m.snap.State = e.State
	m.snap.Sent = e.Sent
	m.snap.Remaining = e.Remaining
	if e.Kind == grbl.EventSent {
		m.snap.LastSent = e.Line
	}
	if e.Result != nil {
		m.snap.Result = e.Result
	}
	snap := m.snap
	m.mx.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		m.log.Error("marshal snapshot", "err", err)
		return
	}
	m.sse.SendMessage(StateChannel, sse.SimpleMessage(string(data)))
}

func (m *Monitor) getState(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(m.Snapshot())
	if err != nil {
		m.log.Error("encode snapshot", "err", err)
	}
}

// Close disconnects event stream clients.
func (m *Monitor) Close() { m.sse.Shutdown() }

// ListenAndServe serves the monitor on addr until ctx is done.
func (m *Monitor) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: m}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	m.log.Info("monitor listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	m.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
