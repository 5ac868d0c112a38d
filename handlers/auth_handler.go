package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"evanda/internal/api"
)

// AuthHandler manages the storefront's backend credential. The token lives
// in the shared api.Session; browser clients never see it.
type AuthHandler struct {
	client  *api.Client
	session *api.Session
}

func NewAuthHandler(client *api.Client, session *api.Session) *AuthHandler {
	return &AuthHandler{client: client, session: session}
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "email and password are required"})
	}

	if err := h.client.Login(c.Request().Context(), h.session, req.Email, req.Password); err != nil {
		if api.IsRejection(err) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		}
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Logged in"})
}

func (h *AuthHandler) Logout(c echo.Context) error {
	h.session.Logout()
	return c.JSON(http.StatusOK, map[string]string{"message": "Logged out"})
}
