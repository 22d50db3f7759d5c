// Package status serves local diagnostics over HTTP: health, JSON state and Prometheus metrics.
// Disabled unless listen address is configured.
package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/temoto/alive/v2"
	"github.com/temoto/envtele/hardware/sht3x"
	"github.com/temoto/envtele/internal/agent"
	"github.com/temoto/envtele/internal/netman"
	"github.com/temoto/envtele/internal/report"
	"github.com/temoto/envtele/log2"
)

const modName string = "status"

const shutdownTimeout = 5 * time.Second

// Source fields may be nil, missing parts are omitted.
type Source struct {
	Version  string
	Agent    *agent.Agent
	Network  *netman.Manager
	Reporter *report.Reporter
	Sensor   *sht3x.Sensor
}

type Server struct {
	Log       *log2.Log
	src       Source
	registry  *prometheus.Registry
	handler   http.Handler
	start     time.Time
	lastError atomic.Value // lastError
}

type lastError struct {
	msg string
	at  time.Time
}

type Snapshot struct {
	Version   string       `json:"version"`
	UptimeSec int64        `json:"uptime_sec"`
	Halted    bool         `json:"halted"`
	HaltError string       `json:"halt_error,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	LastErrAt string       `json:"last_error_at,omitempty"`
	Network   *netman.Link `json:"network,omitempty"`
	Endpoint  string       `json:"endpoint,omitempty"`
	Agent     *agent.Stat  `json:"agent,omitempty"`
	Report    *reportStat  `json:"report,omitempty"`
}

type reportStat struct {
	Sent        uint32 `json:"sent"`
	Failed      uint32 `json:"failed"`
	Dropped     uint32 `json:"dropped"`
	LastSuccess string `json:"last_success,omitempty"`
}

func New(src Source, log *log2.Log) *Server {
	s := &Server{
		Log:      log.WithPrefix(modName),
		src:      src,
		registry: prometheus.NewRegistry(),
		start:    time.Now(),
	}
	s.registry.MustRegister(newCollector(src))

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(
		handlers.LoggingHandler(s.Log.Writer(log2.LDebug), r))
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// RecordError keeps most recent error for status, fits log2.ErrorFunc.
func (s *Server) RecordError(err error) {
	if err == nil {
		return
	}
	s.lastError.Store(lastError{msg: err.Error(), at: time.Now()})
}

// Gatherer exposes registry for tests and embedding into other exporters.
func (s *Server) Gatherer() prometheus.Gatherer { return s.registry }

func (s *Server) Snapshot() Snapshot {
	snap := Snapshot{
		Version:   s.src.Version,
		UptimeSec: int64(time.Since(s.start) / time.Second),
	}
	if le, ok := s.lastError.Load().(lastError); ok {
		snap.LastError = le.msg
		snap.LastErrAt = le.at.UTC().Format(time.RFC3339)
	}
	if a := s.src.Agent; a != nil {
		snap.Halted = a.Halted()
		if snap.Halted && a.HaltErr() != nil {
			snap.HaltError = a.HaltErr().Error()
		}
		st := agent.Stat{}
		a.Stat().CopyTo(&st)
		snap.Agent = &st
	}
	if n := s.src.Network; n != nil {
		link := n.Link()
		snap.Network = &link
	}
	if r := s.src.Reporter; r != nil {
		snap.Endpoint = r.Endpoint()
		st := r.Stat()
		rs := &reportStat{
			Sent:    atomic.LoadUint32(&st.Sent),
			Failed:  atomic.LoadUint32(&st.Failed),
			Dropped: atomic.LoadUint32(&st.Dropped),
		}
		if !st.LastSuccess.IsZero() {
			rs.LastSuccess = st.LastSuccess.Time().UTC().Format(time.RFC3339)
		}
		snap.Report = rs
	}
	return snap
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if a := s.src.Agent; a != nil && a.Halted() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("halted\n"))
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.Snapshot()); err != nil {
		s.Log.Errorf("status encode err=%v", err)
	}
}

// Serve accepts connections on ln until alive stop.
func (s *Server) Serve(ln net.Listener, al *alive.Alive) error {
	if !al.Add(1) {
		_ = ln.Close()
		return nil
	}
	defer al.Done()
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-al.StopChan()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.Log.Errorf("shutdown err=%v", err)
		}
	}()
	s.Log.Infof("listening on %s", ln.Addr())
	err := srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.Annotate(err, "status serve")
}

// ListenAndServe is Serve on TCP addr.
func (s *Server) ListenAndServe(addr string, al *alive.Alive) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "status listen=%s", addr)
	}
	return s.Serve(ln, al)
}
