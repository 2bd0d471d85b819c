package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Handler implements the demo API endpoints.
type Handler struct{}

// NewHandler creates a new request handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Health reports liveness.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Echo returns the posted JSON document unchanged.
func (h *Handler) Echo(c echo.Context) error {
	var payload map[string]any
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	return c.JSON(http.StatusOK, payload)
}

// Time returns the current server time.
func (h *Handler) Time(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

// Login is a stand-in credential endpoint; its request body carries
// sensitive fields that the capture pipeline must redact.
func (h *Handler) Login(c echo.Context) error {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&creds); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if creds.Username == "" || creds.Password == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"token": "demo-" + creds.Username,
	})
}
