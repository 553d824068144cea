package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/bountydotnew/querykit"
	"github.com/bountydotnew/querykit/apperr"
	"github.com/bountydotnew/querykit/auth"
)

const defaultMaxBody = 1 << 20

type ServerOptions struct {
	// Resolver turns bearer tokens into sessions. nil => every request is
	// anonymous and a presented token is rejected.
	Resolver auth.Resolver
	Logger   querykit.Logger
	// Registry receives the transport metrics and backs /metrics.
	// nil => a private registry.
	Registry *prometheus.Registry
	// Namespace prefixes metric names; "" => "bounty".
	Namespace    string
	MaxBodyBytes int64 // 0 => 1 MiB
}

type handler func(ctx context.Context, body []byte) (any, error)

// Server routes procedure calls to registered handlers.
type Server struct {
	router   chi.Router
	log      querykit.Logger
	resolver auth.Resolver
	maxBody  int64
	tracer   trace.Tracer
	m        *serverMetrics

	mu    sync.RWMutex
	procs map[string]handler
}

type serverMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewServer(opts ServerOptions) *Server {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	ns := opts.Namespace
	if ns == "" {
		ns = "bounty"
	}
	factory := promauto.With(reg)

	s := &Server{
		log:      opts.Logger,
		resolver: opts.Resolver,
		maxBody:  opts.MaxBodyBytes,
		tracer:   otel.Tracer("github.com/bountydotnew/querykit/rpc"),
		procs:    make(map[string]handler),
		m: &serverMetrics{
			requests: factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: ns, Subsystem: "rpc", Name: "requests_total",
				Help: "Procedure calls by outcome code.",
			}, []string{"procedure", "code"}),
			duration: factory.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: ns, Subsystem: "rpc", Name: "request_duration_seconds",
				Help: "Procedure call latency.", Buckets: prometheus.DefBuckets,
			}, []string{"procedure"}),
		},
	}
	if s.log == nil {
		s.log = querykit.NopLogger{}
	}
	if s.maxBody <= 0 {
		s.maxBody = defaultMaxBody
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.With(s.session).Post(PathPrefix+"{procedure}", s.serveProcedure)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Handle registers fn under name. Registering a name twice panics.
func Handle[I, O any](s *Server, name string, fn func(ctx context.Context, in I) (O, error)) {
	h := func(ctx context.Context, body []byte) (any, error) {
		var in I
		if len(body) > 0 {
			if err := json.Unmarshal(body, &in); err != nil {
				return nil, apperr.Wrap(apperr.KindValidation, "malformed input", err)
			}
		}
		return fn(ctx, in)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.procs[name]; dup {
		panic(fmt.Sprintf("rpc: procedure %q registered twice", name))
	}
	s.procs[name] = h
}

// Procedures lists registered procedure names, sorted.
func (s *Server) Procedures() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.procs))
	for n := range s.procs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// session attaches the caller's session when a bearer token is presented.
func (s *Server) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if h == "" {
			next.ServeHTTP(w, r)
			return
		}
		tok, ok := auth.BearerToken(h)
		if !ok || s.resolver == nil {
			s.writeError(w, apperr.Unauthorized("invalid authorization header"))
			return
		}
		sess, err := s.resolver.Resolve(r.Context(), tok)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), sess)))
	})
}

func (s *Server) serveProcedure(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "procedure")
	s.mu.RLock()
	h, ok := s.procs[name]
	s.mu.RUnlock()
	if !ok {
		s.m.requests.WithLabelValues("unknown", string(apperr.KindNotFound)).Inc()
		s.writeError(w, apperr.Newf(apperr.KindNotFound, "no procedure %q", name))
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := s.tracer.Start(ctx, "rpc.server "+name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("rpc.method", name)))
	defer span.End()

	start := time.Now()
	out, err := s.call(ctx, h, w, r)
	s.m.duration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	code := "ok"
	if err != nil {
		code = string(apperr.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
	}
	s.m.requests.WithLabelValues(name, code).Inc()

	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			s.log.Error("procedure failed", querykit.Fields{
				"procedure": name, "request_id": middleware.GetReqID(ctx), "err": err,
			})
		}
		s.writeError(w, err)
		return
	}
	raw, err := json.Marshal(out)
	if err != nil {
		s.log.Error("encode result", querykit.Fields{"procedure": name, "err": err})
		s.writeError(w, apperr.Wrap(apperr.KindInternal, "encode result", err))
		return
	}
	s.write(w, http.StatusOK, envelope{Result: raw})
}

func (s *Server) call(ctx context.Context, h handler, w http.ResponseWriter, r *http.Request) (any, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, apperr.Validation("request body too large", nil)
		}
		return nil, apperr.Wrap(apperr.KindValidation, "read body", err)
	}
	return h(ctx, body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	we := &wireError{Code: kind, Fields: apperr.FieldsOf(err)}
	var e *apperr.Error
	switch {
	case kind == apperr.KindInternal:
		we.Message = "internal server error"
	case errors.As(err, &e) && e.Message != "":
		we.Message = e.Message
	default:
		we.Message = err.Error()
	}
	s.write(w, StatusOf(kind), envelope{Error: we})
}

func (s *Server) write(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.log.Debug("write response", querykit.Fields{"err": err})
	}
}
