package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"evanda/internal/api"
	"evanda/internal/scanner"
	"evanda/monitoring"
)

// ScannerHandler fronts one station's validator for the scan UI.
type ScannerHandler struct {
	validator *scanner.Validator
	client    *api.Client
	monitor   *monitoring.Monitor
}

func NewScannerHandler(validator *scanner.Validator, client *api.Client, monitor *monitoring.Monitor) *ScannerHandler {
	return &ScannerHandler{
		validator: validator,
		client:    client,
		monitor:   monitor,
	}
}

// Scan submits one decoded QR payload. The payload travels to the backend
// untouched; this endpoint only relays the verdict.
func (h *ScannerHandler) Scan(c echo.Context) error {
	var req struct {
		QRData string `json:"qr_data"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	outcome, err := h.validator.Scan(c.Request().Context(), req.QRData)
	if h.monitor != nil && outcome != nil {
		switch {
		case outcome.Offline:
			h.monitor.TrackScanVerdict("offline")
		case outcome.Result != nil && outcome.Result.Valid:
			h.monitor.TrackScanVerdict("valid")
		default:
			h.monitor.TrackScanVerdict("invalid")
		}
	}
	if err != nil {
		if outcome != nil && outcome.Offline {
			// The station shows "offline", never "invalid", for this.
			return c.JSON(http.StatusBadGateway, outcome)
		}
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, outcome)
}

// Status reports the station's phase and whatever verdict is on screen.
func (h *ScannerHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"phase":   h.validator.Phase().String(),
		"outcome": h.validator.LastOutcome(),
	})
}

// Reset dismisses the on-screen verdict and re-arms the camera.
func (h *ScannerHandler) Reset(c echo.Context) error {
	h.validator.Reset()
	return c.JSON(http.StatusOK, map[string]string{"phase": h.validator.Phase().String()})
}

// AddScanner registers a new station with the backend (admin action).
func (h *ScannerHandler) AddScanner(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
		Location string `json:"location"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.Username == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "username is required"})
	}

	if err := h.client.AddScanner(c.Request().Context(), req.Username, req.Location); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"message": "Scanner registered"})
}
