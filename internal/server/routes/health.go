package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthRoutes exposes the liveness endpoint.
type HealthRoutes struct{}

// NewHealthRoutes constructs health routes.
func NewHealthRoutes() *HealthRoutes {
	return &HealthRoutes{}
}

// RegisterRoutes registers health endpoints.
func (h *HealthRoutes) RegisterRoutes(s *echo.Echo) {
	s.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}
