package middlewares

import (
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// LoggerMiddleware writes one access log entry per request.
type LoggerMiddleware struct {
	log *log.Logger
}

// MakeLogger constructs the access log middleware.
func MakeLogger(log *log.Logger) echo.MiddlewareFunc {
	logger := LoggerMiddleware{
		log: log,
	}

	return logger.handler
}

func (logger *LoggerMiddleware) handler(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) (err error) {
		start := time.Now()

		res := ctx.Response()
		req := ctx.Request()

		// Propagate the error so the response status is final when logged.
		if err = next(ctx); err != nil {
			ctx.Error(err)
		}

		entry := logger.log.WithFields(log.Fields{
			"remote":   req.RemoteAddr,
			"method":   req.Method,
			"uri":      req.RequestURI,
			"status":   res.Status,
			"bytes":    res.Size,
			"agent":    req.UserAgent(),
			"duration": time.Since(start).String(),
		})
		// scrapes would drown everything else at info
		if req.URL.Path == "/metrics" {
			entry.Debug("request")
		} else {
			entry.Info("request")
		}

		return
	}
}
