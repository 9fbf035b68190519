package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/facegate/attendance/internal/logging"
	authmw "github.com/facegate/attendance/internal/middleware/auth"
	"github.com/facegate/attendance/internal/oauth"
	"github.com/facegate/attendance/internal/service"
)

const oauthStateCookie = "oauth_state"

type AuthHandler struct {
	Identity *service.IdentityService
	OAuth    *oauth.Manager
}

func (h *AuthHandler) SignUp(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_signup")

	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("signup_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name, email and password are required")
	}

	result, err := h.Identity.SignUp(ctx, req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateCredentials) {
			return echo.NewHTTPError(http.StatusForbidden, "Credentials taken")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"message":      result.Message,
		"refreshToken": result.RefreshToken,
	})
}

func (h *AuthHandler) SignIn(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_signin")

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("signin_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	pair, err := h.Identity.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			return echo.NewHTTPError(http.StatusForbidden, "User not found")
		case errors.Is(err, service.ErrNotVerified):
			return echo.NewHTTPError(http.StatusForbidden, "Email not verified")
		case errors.Is(err, service.ErrInvalidCredentials):
			return echo.NewHTTPError(http.StatusForbidden, "Credentials incorrect")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

func (h *AuthHandler) ChangePassword(c echo.Context) error {
	ctx := c.Request().Context()

	userID, ok := authmw.UserID(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}

	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "oldPassword and newPassword are required")
	}

	if err := h.Identity.ChangePassword(ctx, userID, req.OldPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "User not found")
		case errors.Is(err, service.ErrWrongOldPassword):
			return echo.NewHTTPError(http.StatusForbidden, "Old password incorrect")
		case errors.Is(err, service.ErrSamePassword):
			return echo.NewHTTPError(http.StatusForbidden, "New password cannot be the same as the old password")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Password changed successfully!"})
}

func (h *AuthHandler) RefreshToken(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Refresh token must be a string")
	}

	pair, err := h.Identity.Refresh(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid refresh token")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	ctx := c.Request().Context()

	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	if err := h.Identity.VerifyEmail(ctx, token); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Invalid verification token")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Email verified successfully!"})
}

func (h *AuthHandler) GoogleLogin(c echo.Context) error {
	if h.OAuth == nil || !h.OAuth.Enabled() {
		return echo.NewHTTPError(http.StatusNotFound, "google sign-in not configured")
	}

	state, err := h.OAuth.StateToken()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	c.SetCookie(&http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
	})

	return c.Redirect(http.StatusFound, h.OAuth.AuthURL(state))
}

func (h *AuthHandler) GoogleCallback(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_google_callback")

	if h.OAuth == nil || !h.OAuth.Enabled() {
		return echo.NewHTTPError(http.StatusNotFound, "google sign-in not configured")
	}

	stateCookie, err := c.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != c.QueryParam("state") {
		return echo.NewHTTPError(http.StatusBadRequest, "state mismatch")
	}

	code := c.QueryParam("code")
	if code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	token, err := h.OAuth.Exchange(ctx, code)
	if err != nil {
		l.Warn("google_exchange_failed", "error", err)
		return echo.NewHTTPError(http.StatusUnauthorized, "code exchange failed")
	}

	profile, err := h.OAuth.FetchProfile(ctx, token)
	if err != nil {
		if errors.Is(err, oauth.ErrIncompleteProfile) {
			return echo.NewHTTPError(http.StatusBadRequest, "incomplete provider profile")
		}
		l.Error("google_profile_failed", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "provider unavailable")
	}

	pair, err := h.Identity.GoogleSignIn(ctx, profile.Email, profile.Name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}
