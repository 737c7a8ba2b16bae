// Package httpapi is the HTTP entrypoint: it turns requests into commands and serves the allocations view.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	cbus "github.com/next-trace/scg-allocation/contract/bus"
	"github.com/next-trace/scg-allocation/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Options func(s *Server) error

type Server struct {
	router   *echo.Echo
	logger   *slog.Logger
	dispatch cbus.DispatchFunc
	uows     service.UnitOfWorkFactory
	gatherer prometheus.Gatherer
}

// WithGatherer exposes gatherer on /metrics.
func WithGatherer(g prometheus.Gatherer) Options {
	return func(s *Server) error {
		s.gatherer = g
		return nil
	}
}

type requestValidator struct{ v *validator.Validate }

func (r requestValidator) Validate(i interface{}) error { return r.v.Struct(i) }

// New builds the router. dispatch runs commands; uows opens units of work for view queries.
func New(logger *slog.Logger, dispatch cbus.DispatchFunc, uows service.UnitOfWorkFactory, options ...Options) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := Server{
		router:   echo.New(),
		logger:   logger,
		dispatch: dispatch,
		uows:     uows,
	}

	s.router.HideBanner = true
	s.router.HidePort = true
	s.router.Validator = requestValidator{v: validator.New(validator.WithRequiredStructEnabled())}

	for _, fn := range options {
		if err := fn(&s); err != nil {
			return nil, err
		}
	}

	s.RegisterGlobalMiddlewares()
	s.RegisterHealthCheck(s.router.Group(""))

	if s.gatherer != nil {
		s.router.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	s.RegisterAllocationRoutes(s.router.Group(""))

	return &s, nil
}

func (s *Server) RegisterGlobalMiddlewares() {
	s.router.Use(middleware.Recover())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.DebugContext(c.Request().Context(), "request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			)

			return nil
		},
	}))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error { return s.router.Start(addr) }

func (s *Server) Shutdown(ctx context.Context) error { return s.router.Shutdown(ctx) }

func (s *Server) RegisterHealthCheck(router *echo.Group) {
	router.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
}
