package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/elkhoreby/shop-api/internal/apperr"
	"github.com/elkhoreby/shop-api/internal/models"
	"github.com/elkhoreby/shop-api/internal/repo"
	"github.com/elkhoreby/shop-api/internal/tokens"
)

func newTestGate(t *testing.T) (*Gate, *models.User) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to connect to in-memory db")
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.RefreshToken{}))

	user := &models.User{
		Name:         "test user",
		Email:        "test@example.com",
		PasswordHash: "x",
		Role:         "user",
		Active:       true,
	}
	require.NoError(t, db.Create(user).Error)

	issuer := &tokens.Issuer{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    time.Hour,
	}
	return NewGate(repo.New(db), issuer), user
}

func invoke(t *testing.T, mw echo.MiddlewareFunc, header string) (echo.Context, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	return c, err
}

func TestProtectAcceptsValidToken(t *testing.T) {
	gate, user := newTestGate(t)

	raw, _, err := gate.Issuer.IssueAccess(user.ID, user.Role)
	require.NoError(t, err)

	c, err := invoke(t, gate.Protect, "Bearer "+raw)
	require.NoError(t, err)

	id, ok := UserID(c)
	require.True(t, ok)
	require.Equal(t, user.ID, id)
	require.Equal(t, "user", Role(c))
}

func TestProtectRejectsMissingHeader(t *testing.T) {
	gate, _ := newTestGate(t)

	_, err := invoke(t, gate.Protect, "")
	require.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))

	_, err = invoke(t, gate.Protect, "Basic abc")
	require.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestProtectDistinguishesExpiredFromInvalid(t *testing.T) {
	gate, user := newTestGate(t)

	gate.Issuer.AccessTTL = -time.Minute
	expired, _, err := gate.Issuer.IssueAccess(user.ID, user.Role)
	require.NoError(t, err)
	gate.Issuer.AccessTTL = 15 * time.Minute

	_, err = invoke(t, gate.Protect, "Bearer "+expired)
	require.Equal(t, apperr.AccessTokenExpired, apperr.KindOf(err))

	_, err = invoke(t, gate.Protect, "Bearer garbage")
	require.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestProtectRejectsRefreshTokenAsAccess(t *testing.T) {
	gate, user := newTestGate(t)

	refresh, _, err := gate.Issuer.IssueRefresh(user.ID, user.Role)
	require.NoError(t, err)

	_, err = invoke(t, gate.Protect, "Bearer "+refresh)
	require.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestProtectRejectsVanishedUser(t *testing.T) {
	gate, user := newTestGate(t)

	raw, _, err := gate.Issuer.IssueAccess(user.ID+1000, "user")
	require.NoError(t, err)

	_, err = invoke(t, gate.Protect, "Bearer "+raw)
	require.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestProtectRejectsTokenIssuedBeforePasswordChange(t *testing.T) {
	gate, user := newTestGate(t)

	raw, _, err := gate.Issuer.IssueAccess(user.ID, user.Role)
	require.NoError(t, err)

	changed := time.Now().Add(2 * time.Second)
	require.NoError(t, gate.Repo.DB.Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("password_changed_at", changed).Error)

	_, err = invoke(t, gate.Protect, "Bearer "+raw)
	require.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestRestrictTo(t *testing.T) {
	gate, user := newTestGate(t)

	raw, _, err := gate.Issuer.IssueAccess(user.ID, user.Role)
	require.NoError(t, err)

	adminOnly := func(next echo.HandlerFunc) echo.HandlerFunc {
		return gate.Protect(RestrictTo("admin")(next))
	}
	_, err = invoke(t, adminOnly, "Bearer "+raw)
	require.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	userOrAdmin := func(next echo.HandlerFunc) echo.HandlerFunc {
		return gate.Protect(RestrictTo("admin", "user")(next))
	}
	_, err = invoke(t, userOrAdmin, "Bearer "+raw)
	require.NoError(t, err)
}
