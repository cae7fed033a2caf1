// Package gateway is the REST facade over the conductor. Every route maps
// to one conductor operation sent through rpcapi; error kinds come back as
// their HTTP status.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/openstack-archive/namos/errors"
	"github.com/openstack-archive/namos/metric"
	"github.com/openstack-archive/namos/model"
	"github.com/openstack-archive/namos/rpcapi"
	"github.com/openstack-archive/namos/service"
	"github.com/openstack-archive/namos/topology"
)

// Conductor is the part of rpcapi.Client the facade calls.
type Conductor interface {
	AddRegion(ctx context.Context, region *model.Region) (*model.Region, error)
	RegionGetAll(ctx context.Context) ([]*model.Region, error)
	ServicePerspective(ctx context.Context, id string, details bool) (*topology.ServicePerspective, error)
	DevicePerspective(ctx context.Context, id string, details bool) (*topology.DevicePerspective, error)
	RegionPerspective(ctx context.Context, id string) (*topology.RegionPerspective, error)
	InfraPerspective(ctx context.Context) (*topology.InfraPerspective, error)
	View360(ctx context.Context, opts rpcapi.ViewArgs) (*topology.View360, error)
	GetStatus(ctx context.Context, filter rpcapi.StatusArgs) (map[string]topology.WorkerStatus, error)
	ConfigGetByName(ctx context.Context, workerID, name string, onlyConfigured bool) ([]*model.Config, error)
	ConfigFileGet(ctx context.Context, fileID string) (*topology.ConfigFileView, error)
	ConfigFileUpdate(ctx context.Context, fileID, content string) (*rpcapi.ConfigFileUpdateResult, error)
	ConfigSchema(ctx context.Context, project string, withFileLink bool) (topology.SchemaMap, error)
}

var _ Conductor = (*rpcapi.Client)(nil)

// DefaultMaxRequestSize bounds request bodies.
const DefaultMaxRequestSize = 1 << 20

// Server serves the facade routes.
type Server struct {
	*service.BaseService

	conductor      Conductor
	addr           string
	maxRequestSize int64
	requestTimeout time.Duration
	tlsConfig      *tls.Config
	registry       *metric.MetricsRegistry
	logger         *slog.Logger
	router         *mux.Router

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithRegistry serves registry on /metrics.
func WithRegistry(r *metric.MetricsRegistry) Option {
	return func(s *Server) { s.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRequestTimeout bounds each conductor call.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithTLS serves HTTPS with cfg.
func WithTLS(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// WithMaxRequestSize bounds request bodies.
func WithMaxRequestSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxRequestSize = n
		}
	}
}

// New creates the facade over c.
func New(c Conductor, opts ...Option) *Server {
	s := &Server{
		conductor:      c,
		addr:           ":9999",
		maxRequestSize: DefaultMaxRequestSize,
		requestTimeout: 30 * time.Second,
		logger:         slog.Default().With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}

	var m *metric.Metrics
	if s.registry != nil {
		m = s.registry.CoreMetrics()
	}
	s.BaseService = service.NewBaseService("api",
		service.WithLogger(s.logger),
		service.WithMetrics(m),
		service.WithHealthInterval(0))
	s.Monitor().Register("conductor", func(ctx context.Context) error {
		_, err := s.conductor.RegionGetAll(ctx)
		return err
	})

	s.router = s.routes()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(err, "gateway", "Start", "listen on "+s.addr)
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server stopped", "error", err)
		}
	}()
	s.logger.Info("API listening", "addr", ln.Addr().String(), "tls", s.tlsConfig != nil)
	return s.BaseService.Start(ctx)
}

// Stop shuts the listener down, waiting up to timeout for open requests.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.server = nil
	_ = s.BaseService.Stop(timeout)
	if err != nil {
		return errors.Wrap(err, "gateway", "Stop", "shutdown")
	}
	return nil
}

// Address returns the bound address once started.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestID(r)
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil && cur.GetName() != "" {
			route = cur.GetName()
		}
		s.logger.Debug("HTTP request",
			"request_id", id,
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON body of a failed request.
type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
	Code   int    `json:"code,omitempty"`
}

// statusOf maps an error to its HTTP status. Domain kinds carry their own;
// transport failures are 503, or 504 when they timed out.
func statusOf(err error) int {
	var c errors.Coder
	switch {
	case errors.As(err, &c):
		return c.HTTPStatus()
	case errors.IsTransient(err):
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	body := errorBody{Status: status}

	var c errors.Coder
	switch {
	case errors.As(err, &c):
		body.Error = err.Error()
		body.Code = c.ErrorCode()
	case status == http.StatusGatewayTimeout:
		body.Error = "request timeout"
	case status == http.StatusServiceUnavailable:
		body.Error = "conductor unavailable"
	case status == http.StatusBadRequest:
		body.Error = "invalid request"
	default:
		body.Error = "internal server error"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("Request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}
