package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/elkhoreby/shop-api/internal/apperr"
	"github.com/elkhoreby/shop-api/internal/logging"
	authmw "github.com/elkhoreby/shop-api/internal/middleware/auth"
	"github.com/elkhoreby/shop-api/internal/models"
	"github.com/elkhoreby/shop-api/internal/service"
)

type AuthHandler struct {
	Svc          *service.AuthService
	CookieSecure bool
}

type sessionResponse struct {
	Status string       `json:"status"`
	Token  string       `json:"token"`
	Data   *sessionData `json:"data,omitempty"`
}

type sessionData struct {
	User *models.User `json:"user"`
}

func (h *AuthHandler) setRefreshCookie(c echo.Context, token string, exp time.Time) {
	c.SetCookie(CreateCookie(RefreshCookieName, token, "/", exp, h.CookieSecure))
}

func (h *AuthHandler) clearRefreshCookie(c echo.Context) {
	c.SetCookie(DeleteCookie(RefreshCookieName, "/", h.CookieSecure))
}

func (h *AuthHandler) presentedRefresh(c echo.Context) string {
	ck, err := c.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return ck.Value
}

func (h *AuthHandler) sendSession(c echo.Context, status int, res *service.AuthResult) error {
	h.setRefreshCookie(c, res.RefreshToken, res.RefreshExp)
	return c.JSON(status, sessionResponse{
		Status: "success",
		Token:  res.AccessToken,
		Data:   &sessionData{User: res.User},
	})
}

func (h *AuthHandler) Signup(c echo.Context) error {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}

	res, err := h.Svc.Signup(c.Request().Context(), req.Name, req.Email, req.Password)
	if err != nil {
		return err
	}
	return h.sendSession(c, http.StatusCreated, res)
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}

	res, err := h.Svc.Login(c.Request().Context(), req.Email, req.Password, h.presentedRefresh(c))
	if err != nil {
		return err
	}
	return h.sendSession(c, http.StatusOK, res)
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	res, err := h.Svc.Refresh(c.Request().Context(), h.presentedRefresh(c))
	if err != nil {
		// Drop the cookie only when the session itself is dead; a
		// transient failure must not log the device out.
		switch apperr.KindOf(err) {
		case apperr.Forbidden, apperr.Unauthenticated:
			h.clearRefreshCookie(c)
		}
		return err
	}

	h.setRefreshCookie(c, res.RefreshToken, res.RefreshExp)
	return c.JSON(http.StatusOK, sessionResponse{
		Status: "success",
		Token:  res.AccessToken,
	})
}

func (h *AuthHandler) Logout(c echo.Context) error {
	l := logging.FromContext(c.Request().Context()).With("handler", "auth_logout")

	if err := h.Svc.Logout(c.Request().Context(), h.presentedRefresh(c)); err != nil {
		h.clearRefreshCookie(c)
		l.Error("logout_failed", "error", err)
		return err
	}

	h.clearRefreshCookie(c)
	return c.JSON(http.StatusOK, echo.Map{
		"status":  "success",
		"message": "logged out",
	})
}

func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}

	resetURLBase := fmt.Sprintf("%s://%s/api/v1/users/resetPassword/", c.Scheme(), c.Request().Host)
	if err := h.Svc.ForgotPassword(c.Request().Context(), req.Email, resetURLBase); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":  "success",
		"message": "token sent to email",
	})
}

func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}

	res, err := h.Svc.ResetPassword(c.Request().Context(), c.Param("token"), req.Password)
	if err != nil {
		return err
	}
	return h.sendSession(c, http.StatusOK, res)
}

func (h *AuthHandler) UpdatePassword(c echo.Context) error {
	userID, ok := authmw.UserID(c)
	if !ok {
		return apperr.New(apperr.Unauthenticated, "you are not logged in")
	}

	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.Validation, "invalid body")
	}

	res, err := h.Svc.UpdatePassword(c.Request().Context(), userID, req.OldPassword, req.NewPassword)
	if err != nil {
		return err
	}
	return h.sendSession(c, http.StatusOK, res)
}
