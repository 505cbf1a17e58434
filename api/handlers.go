package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chainexport/csvstore/store"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	// CommittedHeight is the last height durably written, -1 before the
	// first flush.
	CommittedHeight int64          `json:"committed-height"`
	Pending         *store.Pending `json:"pending"`
	Version         string         `json:"version"`
}

// ErrorResponse is returned with a non-200 status.
type ErrorResponse struct {
	Message string `json:"message"`
}

const errNotConnected = "database is not connected"

type handlers struct {
	db      StatusSource
	version string
}

// health reports the committed height and the chunk waiting to be flushed.
// It answers 503 until the database is connected.
func (h *handlers) health(ctx echo.Context) error {
	status := h.db.Status()
	if !status.Connected {
		return ctx.JSON(http.StatusServiceUnavailable, ErrorResponse{Message: errNotConnected})
	}
	return ctx.JSON(http.StatusOK, HealthResponse{
		CommittedHeight: status.CommittedHeight,
		Pending:         status.Pending,
		Version:         h.version,
	})
}
