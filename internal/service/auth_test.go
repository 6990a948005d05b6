package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/elkhoreby/shop-api/internal/apperr"
	"github.com/elkhoreby/shop-api/internal/mailer"
	"github.com/elkhoreby/shop-api/internal/models"
	"github.com/elkhoreby/shop-api/internal/mykafka"
	"github.com/elkhoreby/shop-api/internal/repo"
	"github.com/elkhoreby/shop-api/internal/tokens"
)

type fakeMailer struct {
	sent []mailer.Message
	fail bool
}

func (m *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	if m.fail {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newTestService(t *testing.T) (*AuthService, *fakeMailer) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to connect to in-memory db")
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.RefreshToken{}))

	fm := &fakeMailer{}
	svc := &AuthService{
		Repo: repo.New(db),
		Issuer: &tokens.Issuer{
			AccessSecret:  []byte("access-secret"),
			RefreshSecret: []byte("refresh-secret"),
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    time.Hour,
		},
		Mailer:     fm,
		Producer:   &mykafka.Producer{},
		BcryptCost: bcrypt.MinCost,
	}
	return svc, fm
}

func signup(t *testing.T, svc *AuthService) *AuthResult {
	t.Helper()
	res, err := svc.Signup(context.Background(), "Test User", "test@example.com", "password123")
	require.NoError(t, err)
	return res
}

func TestSignupAssignsUserRole(t *testing.T) {
	svc, _ := newTestService(t)

	res := signup(t, svc)
	require.Equal(t, "user", res.User.Role)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)
	require.NotEqual(t, "password123", res.User.PasswordHash)

	count, err := svc.Repo.CountRefreshTokens(context.Background(), res.User.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "", "test@example.com", "password123")
	require.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = svc.Signup(ctx, "Test", "not-an-email", "password123")
	require.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = svc.Signup(ctx, "Test", "test@example.com", "short")
	require.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestSignupDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	signup(t, svc)

	_, err := svc.Signup(context.Background(), "Other", "test@example.com", "password123")
	require.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestLoginWrongCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	signup(t, svc)
	ctx := context.Background()

	_, err := svc.Login(ctx, "test@example.com", "wrong password", "")
	require.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))

	// Unknown email yields the same kind and message as a bad password.
	_, err2 := svc.Login(ctx, "nobody@example.com", "password123", "")
	require.Equal(t, apperr.Unauthenticated, apperr.KindOf(err2))
	require.Equal(t, err.Error(), err2.Error())
}

func TestLoginGrowsSessionSet(t *testing.T) {
	svc, _ := newTestService(t)
	res := signup(t, svc)
	ctx := context.Background()

	// A second device logs in without presenting a refresh token: both
	// sessions stay live.
	_, err := svc.Login(ctx, "test@example.com", "password123", "")
	require.NoError(t, err)

	count, err := svc.Repo.CountRefreshTokens(ctx, res.User.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestLoginRotatesPresentedToken(t *testing.T) {
	svc, _ := newTestService(t)
	res := signup(t, svc)
	ctx := context.Background()

	got, err := svc.Login(ctx, "test@example.com", "password123", res.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, res.RefreshToken, got.RefreshToken)

	count, err := svc.Repo.CountRefreshTokens(ctx, res.User.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestLoginWithForeignTokenRevokesAll(t *testing.T) {
	svc, _ := newTestService(t)
	res := signup(t, svc)
	ctx := context.Background()

	_, err := svc.Login(ctx, "test@example.com", "password123", "")
	require.NoError(t, err)

	// Presenting a token that is not in the stored set wipes the set;
	// only the fresh session survives.
	stray, _, err := svc.Issuer.IssueRefresh(res.User.ID, "user")
	require.NoError(t, err)
	_, err = svc.Login(ctx, "test@example.com", "password123", stray)
	require.NoError(t, err)

	count, err := svc.Repo.CountRefreshTokens(ctx, res.User.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestRefreshRotates(t *testing.T) {
	svc, _ := newTestService(t)
	res := signup(t, svc)
	ctx := context.Background()

	got, err := svc.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, got.AccessToken)
	require.NotEqual(t, res.RefreshToken, got.RefreshToken)

	count, err := svc.Repo.CountRefreshTokens(ctx, res.User.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestRefreshReuseRevokesAllSessions(t *testing.T) {
	svc, _ := newTestService(t)
	res := signup(t, svc)
	ctx := context.Background()

	_, err := svc.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)

	// Replaying the rotated-away token must kill every session.
	_, err = svc.Refresh(ctx, res.RefreshToken)
	require.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	count, err := svc.Repo.CountRefreshTokens(ctx, res.User.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestRefreshGarbageToken(t *testing.T) {
	svc, _ := newTestService(t)
	signup(t, svc)

	_, err := svc.Refresh(context.Background(), "garbage")
	require.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	_, err = svc.Refresh(context.Background(), "")
	require.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	res := signup(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Logout(ctx, res.RefreshToken))
	require.NoError(t, svc.Logout(ctx, res.RefreshToken))
	require.NoError(t, svc.Logout(ctx, ""))

	// The revoked token can no longer be refreshed.
	_, err := svc.Refresh(ctx, res.RefreshToken)
	require.Equal(t, apperr.Forbidden, apperr.KindOf(err))
}

func TestLogoutSurfacesStoreFailure(t *testing.T) {
	svc, _ := newTestService(t)
	res := signup(t, svc)

	require.NoError(t, svc.Repo.DB.Migrator().DropTable(&models.RefreshToken{}))

	err := svc.Logout(context.Background(), res.RefreshToken)
	require.Error(t, err)
	require.Equal(t, apperr.Internal, apperr.KindOf(err))
}

func TestForgotPasswordSendsToken(t *testing.T) {
	svc, fm := newTestService(t)
	signup(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.ForgotPassword(ctx, "test@example.com", "https://shop.local/reset/"))
	require.Len(t, fm.sent, 1)
	require.Equal(t, "test@example.com", fm.sent[0].To)
	require.Contains(t, fm.sent[0].Body, "https://shop.local/reset/")

	err := svc.ForgotPassword(ctx, "nobody@example.com", "https://shop.local/reset/")
	require.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestForgotPasswordRollsBackOnDeliveryFailure(t *testing.T) {
	svc, fm := newTestService(t)
	res := signup(t, svc)
	ctx := context.Background()

	fm.fail = true
	err := svc.ForgotPassword(ctx, "test@example.com", "https://shop.local/reset/")
	require.Equal(t, apperr.DeliveryFailed, apperr.KindOf(err))

	user, err2 := svc.Repo.FindByID(ctx, res.User.ID)
	require.NoError(t, err2)
	require.Nil(t, user.PasswordResetTokenHash)
	require.Nil(t, user.PasswordResetExpiresAt)
}

func resetTokenFromMail(t *testing.T, body string) string {
	t.Helper()
	lines := strings.Split(body, "\n")
	require.Greater(t, len(lines), 1)
	url := lines[1]
	return url[strings.LastIndex(url, "/")+1:]
}

func TestResetPasswordSingleRedemption(t *testing.T) {
	svc, fm := newTestService(t)
	res := signup(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.ForgotPassword(ctx, "test@example.com", "https://shop.local/reset/"))
	raw := resetTokenFromMail(t, fm.sent[0].Body)

	got, err := svc.ResetPassword(ctx, raw, "newpassword123")
	require.NoError(t, err)
	require.Equal(t, res.User.ID, got.User.ID)

	// Old password is gone, new one works.
	_, err = svc.Login(ctx, "test@example.com", "password123", "")
	require.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))
	_, err = svc.Login(ctx, "test@example.com", "newpassword123", "")
	require.NoError(t, err)

	// Redeeming the same token again must fail.
	_, err = svc.ResetPassword(ctx, raw, "anotherpassword123")
	require.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestResetPasswordRevokesOldSessions(t *testing.T) {
	svc, fm := newTestService(t)
	res := signup(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.ForgotPassword(ctx, "test@example.com", "https://shop.local/reset/"))
	raw := resetTokenFromMail(t, fm.sent[0].Body)

	_, err := svc.ResetPassword(ctx, raw, "newpassword123")
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, res.RefreshToken)
	require.Equal(t, apperr.Forbidden, apperr.KindOf(err))
}

func TestResetPasswordBadToken(t *testing.T) {
	svc, _ := newTestService(t)
	signup(t, svc)

	_, err := svc.ResetPassword(context.Background(), "bogus", "newpassword123")
	require.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestUpdatePasswordRequiresOldOne(t *testing.T) {
	svc, _ := newTestService(t)
	res := signup(t, svc)
	ctx := context.Background()

	_, err := svc.UpdatePassword(ctx, res.User.ID, "wrong password", "newpassword123")
	require.Equal(t, apperr.Unauthenticated, apperr.KindOf(err))

	got, err := svc.UpdatePassword(ctx, res.User.ID, "password123", "newpassword123")
	require.NoError(t, err)
	require.NotEmpty(t, got.RefreshToken)

	// The pre-change session is dead, the post-change one is live.
	_, err = svc.Refresh(ctx, res.RefreshToken)
	require.Equal(t, apperr.Forbidden, apperr.KindOf(err))
	_, err = svc.Refresh(ctx, got.RefreshToken)
	require.NoError(t, err)
}

func TestPasswordChangeInvalidatesOldAccessTokens(t *testing.T) {
	svc, _ := newTestService(t)
	res := signup(t, svc)
	ctx := context.Background()

	_, err := svc.UpdatePassword(ctx, res.User.ID, "password123", "newpassword123")
	require.NoError(t, err)

	user, err := svc.Repo.FindByID(ctx, res.User.ID)
	require.NoError(t, err)

	// A token issued well before the change is dead; one minted after
	// the change (the mutation time is backdated a second) is not.
	require.True(t, user.PasswordChangedAfter(time.Now().Add(-2*time.Second)))
	require.False(t, user.PasswordChangedAfter(time.Now()))
}
