// Package service is the HTTP face of a running metronome: history,
// a rendered report, a WebSocket stream, metrics, and a goroutine
// dump.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/pprof"
	"strconv"
	"time"

	"github.com/Comcast/metronome/sink"
	"github.com/Comcast/metronome/storage"
	"github.com/Comcast/metronome/util"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DefaultLimit is the number of reports returned when the request
// doesn't say.
const DefaultLimit = 100

type Service struct {
	Debug bool

	// Storage provides history.  Required.
	Storage storage.Storage

	// Recent, if not nil, serves /api/recent.
	Recent *Recent

	// Hub, if not nil, serves /ws.
	Hub *sink.Hub

	// ShutdownTimeout bounds the graceful part of Run's exit.
	ShutdownTimeout time.Duration

	log *zap.SugaredLogger
}

// NewService makes a Service.  A nil storage means NoopStorage.
func NewService(s storage.Storage, recent *Recent, hub *sink.Hub) *Service {
	if s == nil {
		s = &storage.NoopStorage{}
	}
	return &Service{
		Storage:         s,
		Recent:          recent,
		Hub:             hub,
		ShutdownTimeout: 5 * time.Second,
		log:             util.Logger().With("subsystem", "service"),
	}
}

func (s *Service) logf(format string, args ...interface{}) {
	if s.Debug {
		s.log.Infof(format, args...)
	}
}

func (s *Service) complain(w http.ResponseWriter, x interface{}, status int) {
	s.logf("Service complaining %d: %v", status, x)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	js, err := json.Marshal(map[string]interface{}{
		"error": fmt.Sprintf("%v", x),
	})
	if err != nil {
		// Better than nothing.
		js = []byte(`{"error":"unknown"}`)
	}
	fmt.Fprintf(w, "%s\n", js)
}

func (s *Service) reply(w http.ResponseWriter, x interface{}) {
	js, err := json.Marshal(x)
	if err != nil {
		s.complain(w, err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err = fmt.Fprintf(w, "%s\n", js); err != nil {
		s.log.Warnf("Service.reply warning on Write(): %v", err)
	}
}

// history gets the reports requested by the "command" and "limit"
// query parameters.  If something goes wrong, history complains and
// returns false.
func (s *Service) history(w http.ResponseWriter, r *http.Request) (string, []*sink.Report, bool) {
	name := r.FormValue("command")
	if name == "" {
		s.complain(w, "need a command", http.StatusBadRequest)
		return "", nil, false
	}

	limit := DefaultLimit
	if l := r.FormValue("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			s.complain(w, fmt.Sprintf("bad limit %q", l), http.StatusBadRequest)
			return "", nil, false
		}
		limit = n
	}

	rs, err := s.Storage.GetHistory(r.Context(), name, limit)
	if errors.Is(err, storage.NotFound) {
		s.complain(w, err, http.StatusNotFound)
		return "", nil, false
	}
	if err != nil {
		s.complain(w, err, http.StatusInternalServerError)
		return "", nil, false
	}
	if rs == nil {
		rs = []*sink.Report{}
	}

	return name, rs, true
}

// Handler returns the service's routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "\"pong\"\n")
	})

	mux.HandleFunc("/api/commands", func(w http.ResponseWriter, r *http.Request) {
		names, err := s.Storage.Commands(r.Context())
		if err != nil {
			s.complain(w, err, http.StatusInternalServerError)
			return
		}
		if names == nil {
			names = []string{}
		}
		s.reply(w, names)
	})

	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		if _, rs, ok := s.history(w, r); ok {
			s.reply(w, rs)
		}
	})

	mux.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		name, rs, ok := s.history(w, r)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := RenderHistoryHTML(name, rs, w); err != nil {
			s.log.Warnf("Service /report warning: %v", err)
		}
	})

	if s.Recent != nil {
		mux.HandleFunc("/api/recent", func(w http.ResponseWriter, r *http.Request) {
			var since int64
			if n, err := strconv.ParseInt(r.FormValue("since"), 10, 64); err == nil {
				since = n
			}

			timeout, err := time.ParseDuration(r.FormValue("timeout"))
			if err != nil {
				timeout = 10 * time.Second
			}

			s.reply(w, s.Recent.Get(r.Context(), since, timeout))
		})
	}

	if s.Hub != nil {
		mux.Handle("/ws", s.Hub)
	}

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/goroutines", func(w http.ResponseWriter, r *http.Request) {
		pprof.Lookup("goroutine").WriteTo(w, 1)
	})

	return mux
}

// Run serves on the given address until ctx is done.
func (s *Service) Run(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on the given listener until ctx is done.
//
// Then Serve shuts down the server gracefully (bounded by
// ShutdownTimeout) and returns nil.
func (s *Service) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.log.Infof("Service starting on %s", l.Addr())

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Serve(l)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	s.log.Infof("Service shutting down")

	if s.Hub != nil {
		// Hijacked connections aren't closed by Shutdown.
		s.Hub.Close()
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
