// Package api serves the status of a running export over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	echo_contrib "github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/chainexport/csvstore/api/middlewares"
	"github.com/chainexport/csvstore/store"
)

// StatusSource is implemented by store.Database.
type StatusSource interface {
	Status() store.Status
}

// ExtraOptions are options which change the behavior or the HTTP server.
type ExtraOptions struct {
	// MetricsEndpoint turns on the /metrics endpoint for prometheus metrics.
	MetricsEndpoint bool

	// Version is reported by /health.
	Version string
}

// NewServer builds the echo instance with all routes and middleware.
func NewServer(db StatusSource, log *log.Logger, options ExtraOptions) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if options.MetricsEndpoint {
		p := echo_contrib.NewPrometheus("csvstore", nil, nil)
		p.RequestCounterURLLabelMappingFunc = middlewares.PrometheusPathMapper
		// This call installs the prometheus metrics collection middleware and
		// the "/metrics" handler.
		p.Use(e)
	}

	e.Use(middlewares.MakeLogger(log))
	e.Use(middleware.CORS())

	h := handlers{db: db, version: options.Version}
	e.GET("/health", h.health)

	return e
}

// Serve starts an http server for the status API. This call blocks until ctx
// is canceled or the listener fails.
func Serve(ctx context.Context, serveAddr string, db StatusSource, log *log.Logger, options ExtraOptions) error {
	e := NewServer(db, log, options)

	getctx := func(l net.Listener) context.Context {
		return ctx
	}
	s := &http.Server{
		Addr:           serveAddr,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
		BaseContext:    getctx,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.StartServer(s)
	}()
	log.Infof("serving status API on %s", serveAddr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	// Allow one second for graceful shutdown.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
