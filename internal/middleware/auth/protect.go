package auth

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/elkhoreby/shop-api/internal/apperr"
	"github.com/elkhoreby/shop-api/internal/repo"
	"github.com/elkhoreby/shop-api/internal/tokens"
)

const (
	userIDKey = "user_id"
	roleKey   = "role"
)

// Gate guards protected routes. Every request re-verifies from scratch:
// no cached validity survives a password change or a session revocation.
type Gate struct {
	Repo   *repo.Repo
	Issuer *tokens.Issuer
}

func NewGate(r *repo.Repo, issuer *tokens.Issuer) *Gate {
	return &Gate{Repo: r, Issuer: issuer}
}

// Protect extracts and verifies the bearer access token, checks the user
// still exists and did not change the password after issuance, then
// attaches the identity to the request context.
func (g *Gate) Protect(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			return apperr.New(apperr.Unauthenticated, "you are not logged in, please log in to get access")
		}

		claims, err := g.Issuer.VerifyAccess(raw)
		if err != nil {
			if errors.Is(err, tokens.ErrTokenExpired) {
				return apperr.New(apperr.AccessTokenExpired, "access token expired, please refresh")
			}
			return apperr.New(apperr.Unauthenticated, "invalid token, please log in again")
		}

		userID, err := claims.UserID()
		if err != nil {
			return apperr.New(apperr.Unauthenticated, "invalid token, please log in again")
		}

		user, err := g.Repo.FindByID(c.Request().Context(), userID)
		if err != nil {
			if errors.Is(err, repo.ErrUserNotFound) {
				return apperr.New(apperr.Unauthenticated, "the user belonging to this token no longer exists")
			}
			return apperr.Wrap(apperr.Internal, "cannot load user", err)
		}

		if claims.IssuedAt != nil && user.PasswordChangedAfter(claims.IssuedAt.Time) {
			return apperr.New(apperr.Unauthenticated, "the password was changed after this token was issued")
		}

		c.Set(userIDKey, user.ID)
		c.Set(roleKey, user.Role)
		return next(c)
	}
}

// RestrictTo rejects any identity whose role is not in the allowed set.
// It must run after Protect.
func RestrictTo(roles ...string) echo.MiddlewareFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := allowed[Role(c)]; !ok {
				return apperr.New(apperr.Forbidden, "you do not have permission to perform this action")
			}
			return next(c)
		}
	}
}

// UserID returns the identity attached by Protect.
func UserID(c echo.Context) (uint, bool) {
	id, ok := c.Get(userIDKey).(uint)
	return id, ok
}

func Role(c echo.Context) string {
	role, _ := c.Get(roleKey).(string)
	return role
}
