// Package api exposes the image operations and account endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dunamismax/pixelgate/internal/auth"
	"github.com/dunamismax/pixelgate/internal/chain"
	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/imageops"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxUploadBytes caps an uploaded image at 10 MiB.
const DefaultMaxUploadBytes = 10 << 20

type Authenticator interface {
	chain.TokenVerifier
	Register(ctx context.Context, email, password string) (domain.Identity, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
}

type Executor interface {
	chain.StepApplier
	chain.PipelineRunner
}

type Options struct {
	Logger   logrus.FieldLogger
	Auth     Authenticator
	Executor Executor
	Sink     chain.LogSink

	// Archive enables the archive stage when non-nil.
	Archive       chain.ObjectWriter
	ArchivePrefix string

	RateLimiter    RateLimiter
	MaxUploadBytes int64
	Registry       *prometheus.Registry
	Tracer         trace.Tracer
}

type Server struct {
	logger      logrus.FieldLogger
	auth        Authenticator
	handlers    map[string]chain.Handler
	rateLimiter RateLimiter
	maxUpload   int64
	metrics     *metrics
	tracer      trace.Tracer
	mux         *http.ServeMux
}

func NewServer(opts Options) (*Server, error) {
	if opts.Auth == nil {
		return nil, errors.New("authenticator is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Sink == nil {
		return nil, errors.New("log sink is required")
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("pixelgate/api")
	}

	s := &Server{
		logger:      opts.Logger,
		auth:        opts.Auth,
		handlers:    make(map[string]chain.Handler),
		rateLimiter: opts.RateLimiter,
		maxUpload:   opts.MaxUploadBytes,
		metrics:     newMetrics(opts.Registry),
		tracer:      opts.Tracer,
		mux:         http.NewServeMux(),
	}

	// Logging is outermost so that rejected tokens are still recorded.
	stages := []chain.Stage{
		chain.Logging(opts.Sink, opts.Logger),
		chain.Authenticate(opts.Auth),
	}
	if opts.Archive != nil {
		stages = append(stages, chain.Archive(opts.Archive, opts.ArchivePrefix, opts.Logger))
	}
	for _, op := range domain.OperationTypes {
		s.handlers[string(op)] = chain.Chain(chain.OperationHandler(opts.Executor, op), stages...)
	}
	s.handlers[endpointPipeline] = chain.Chain(chain.PipelineHandler(opts.Executor), stages...)

	s.routes()
	return s, nil
}

// Handler returns the mux wrapped in request ID, access log, metrics,
// tracing and rate limiting middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRateLimit(h)
	h = s.withTracing(h)
	h = s.metrics.withHTTPMetrics(h)
	h = s.withAccessLog(h)
	h = withRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)

	for _, op := range domain.OperationTypes {
		s.mux.HandleFunc("POST /images/"+string(op), s.handleOperation(op))
	}
	s.mux.HandleFunc("POST /images/"+endpointPipeline, s.handlePipeline)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"backend":   imageops.BackendName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return &domain.ValidationError{Reason: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return &domain.ValidationError{Reason: "invalid JSON body: multiple JSON values are not allowed"}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
