package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/b2500meter/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// exact bodies expected by existing watchdogs
	healthBody   = `{"status": "healthy", "service": "b2500-meter"}`
	notFoundBody = `{"error": "Not Found"}`

	HEADER_VERSION = "X-B2500meter-Version"
)

type healthCheckStatus struct {
	Status  string   `json:"status"`
	State   string   `json:"state"`
	Failing []string `json:"failing,omitempty"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = notFoundErrorHandler(e)
	e.Pre(middleware.RemoveTrailingSlash())
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/health", s.HealthHandler)
	e.HEAD("/health", s.HealthHandler)
	e.GET("/api", s.HealthHandler)
	e.HEAD("/api", s.HealthHandler)
	e.GET("/healthcheck", s.HealthCheckHandler)
	if s.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	return e
}

func (s *Server) HealthHandler(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	if s.version != "" {
		c.Response().Header().Set(HEADER_VERSION, s.version)
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, []byte(healthBody))
}

func notFoundErrorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusNotFound && !c.Response().Committed {
			c.Blob(http.StatusNotFound, echo.MIMEApplicationJSON, []byte(notFoundBody))
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, healthCheckStatus{Status: "fail", State: "unreachable"})
	}
	response, ok := res.(domain.ActorHealthResponse)
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, healthCheckStatus{Status: "fail", State: "unknown"})
	}
	if response.Healthy {
		return c.JSON(http.StatusOK, healthCheckStatus{Status: "ok", State: response.State})
	}
	return c.JSON(http.StatusServiceUnavailable, healthCheckStatus{Status: "fail", State: response.State, Failing: response.Failing})
}
