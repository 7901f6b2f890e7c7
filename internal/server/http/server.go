package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/spotsync/internal/metrics"
	"github.com/rzbill/spotsync/internal/record"
	"github.com/rzbill/spotsync/internal/relay/wire"
	"github.com/rzbill/spotsync/internal/relaystore"
	relaysvc "github.com/rzbill/spotsync/internal/services/relay"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

const (
	maxBodyBytes  = 1 << 20
	requestHeader = "X-Request-Id"
)

type Server struct {
	svc    *relaysvc.Service
	srv    *http.Server
	lis    net.Listener
	logger logpkg.Logger
}

// New builds the server. m may be nil, in which case /metrics is not served.
func New(svc *relaysvc.Service, m *metrics.Metrics, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	mux := http.NewServeMux()
	s := &Server{svc: svc, logger: logger.With(logpkg.Component("http"))}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/publish", s.handlePublish)
	mux.HandleFunc("/v1/query", s.handleQuery)
	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}
	s.srv = &http.Server{Handler: cors(s.requestID(mux)), ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve runs on an existing listener until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.lis = l
	s.logger.Info("http relay listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr returns the bound address once listening.
func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+wire.SubscriptionIDHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestID tags each request with an id for log correlation.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestHeader, id)
		ctx := logpkg.ContextWith(r.Context(), logpkg.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.svc.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	status, err := s.svc.Publish(r.Context(), "http", body)
	if err != nil {
		code := statusFor(err)
		if code >= 500 {
			s.logger.WithContext(r.Context()).Error("publish failed", logpkg.Err(err))
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// ndjsonSink writes one record per line and flushes through to the client.
type ndjsonSink struct {
	w     http.ResponseWriter
	enc   *json.Encoder
	wrote bool
}

func (s *ndjsonSink) Send(rec record.Record) error {
	if !s.wrote {
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.WriteHeader(http.StatusOK)
		s.wrote = true
	}
	return s.enc.Encode(rec)
}

func (s *ndjsonSink) Flush() error {
	if !s.wrote {
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.WriteHeader(http.StatusOK)
		s.wrote = true
	}
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	sink := &ndjsonSink{w: w, enc: json.NewEncoder(w)}
	err = s.svc.Query(r.Context(), "http", body, r.Header.Get(wire.SubscriptionIDHeader), sink)
	if err == nil {
		return
	}
	if sink.wrote {
		// Headers are gone; the client sees a truncated stream.
		s.logger.WithContext(r.Context()).Warn("query aborted mid-stream", logpkg.Err(err))
		return
	}
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, relaysvc.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, relaystore.ErrStale):
		return http.StatusConflict
	case relaysvc.IsRejection(err):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
