package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"evanda/internal/api"
	"evanda/internal/status"
)

// writeError maps an error onto the storefront's three failure classes:
// bad input (400), a state or business refusal (409/422), or the backend
// being unreachable (502). The distinction is load-bearing for the UI copy.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, status.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})

	case errors.Is(err, status.ErrInvalidPhone),
		errors.Is(err, status.ErrEmptySelection),
		errors.Is(err, status.ErrEmptyPayload):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})

	case errors.Is(err, status.ErrQuantityExceeded),
		errors.Is(err, status.ErrPaymentInFlight),
		errors.Is(err, status.ErrScanInFlight),
		errors.Is(err, status.ErrInvalidTransition),
		errors.Is(err, status.ErrSessionClosed):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})

	case api.IsRejection(err):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": api.RejectionMessage(err)})

	default:
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "ticketing service unreachable"})
	}
}

func pathInt(c echo.Context, name string) (int, error) {
	return strconv.Atoi(c.PathParam(name))
}
