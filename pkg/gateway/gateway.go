package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/pagelock/pkg/manager"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	RefreshPath      = "/pagelock/refresh"
	RefreshRouteName = "RefreshPageLock"

	CheckPath      = "/pagelock/check"
	CheckRouteName = "CheckPageLock"

	ReleasePath      = "/pagelock/release"
	ReleaseRouteName = "ReleasePageLock"

	PagePath      = "/pagelock/page"
	PageRouteName = "AddPageLock"

	MetricsPath      = "/metrics"
	MetricsRouteName = "Metrics"

	HealthPath      = "/healthz"
	HealthRouteName = "Health"
)

type Server struct {
	httpServer *http.Server
	handler    *LockHandler
	logger     hclog.Logger
}

func NewServer(httpAddr string, mgr *manager.Manager, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Server{
		httpServer: &http.Server{
			Addr:              httpAddr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		handler: NewLockHandler(mgr, logger),
		logger:  logger,
	}
	s.httpServer.Handler = s.Routes()
	return s
}

// Routes builds the router for the lock endpoints plus metrics and health
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.Path(RefreshPath).Methods(http.MethodPost).Name(RefreshRouteName).HandlerFunc(s.handler.Refresh)
	r.Path(CheckPath).Methods(http.MethodPost).Name(CheckRouteName).HandlerFunc(s.handler.Check)
	r.Path(ReleasePath).Methods(http.MethodPost).Name(ReleaseRouteName).HandlerFunc(s.handler.Release)
	r.Path(PagePath).Methods(http.MethodPost).Name(PageRouteName).HandlerFunc(s.handler.Page)

	r.Path(MetricsPath).Methods(http.MethodGet).Name(MetricsRouteName).Handler(promhttp.Handler())
	r.Path(HealthPath).Methods(http.MethodGet).Name(HealthRouteName).HandlerFunc(health)
	return r
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP gateway: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Trace("http request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}

func health(w http.ResponseWriter, r *http.Request) {
	WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
