package middlewares

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// PrometheusPathMapper labels requests by their route. Unknown paths share a
// single empty label so scanners cannot grow the label set.
func PrometheusPathMapper(c echo.Context) string {
	if c.Response().Status == http.StatusNotFound {
		return ""
	}
	return c.Path()
}
