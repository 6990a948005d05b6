package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/elkhoreby/shop-api/internal/apperr"
	"github.com/elkhoreby/shop-api/internal/hash"
	"github.com/elkhoreby/shop-api/internal/logging"
	"github.com/elkhoreby/shop-api/internal/mailer"
	"github.com/elkhoreby/shop-api/internal/models"
	"github.com/elkhoreby/shop-api/internal/mykafka"
	"github.com/elkhoreby/shop-api/internal/repo"
	"github.com/elkhoreby/shop-api/internal/tokens"
)

const (
	minPasswordLen = 8
	resetTokenTTL  = 10 * time.Minute
)

type AuthService struct {
	Repo       *repo.Repo
	Issuer     *tokens.Issuer
	Mailer     mailer.Mailer
	Producer   *mykafka.Producer
	BcryptCost int
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

type AuthResult struct {
	User *models.User
	TokenPair
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// Signup creates a user with role "user" and opens its first session.
func (s *AuthService) Signup(ctx context.Context, name, email, password string) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.signup")

	email = normalizeEmail(email)
	if name == "" {
		return nil, apperr.New(apperr.Validation, "please tell us your name")
	}
	if !validEmail(email) {
		return nil, apperr.New(apperr.Validation, "please provide a valid email")
	}
	if len(password) < minPasswordLen {
		return nil, apperr.New(apperr.Validation, fmt.Sprintf("password must have at least %d characters", minPasswordLen))
	}

	pwHash, err := hash.Password(password, s.BcryptCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "cannot hash password", err)
	}

	user := models.User{
		Name:         name,
		Email:        email,
		PasswordHash: pwHash,
		Role:         "user",
		Active:       true,
	}
	if err := s.Repo.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, repo.ErrEmailTaken) {
			return nil, apperr.New(apperr.Conflict, "a user with this email already exists")
		}
		return nil, apperr.Wrap(apperr.Internal, "cannot create user", err)
	}

	pair, err := s.startSession(ctx, &user, "")
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "user_events", user.ID, map[string]interface{}{
		"type":   "user_registered",
		"userID": user.ID,
		"email":  user.Email,
	})
	l.Info("signup_successful", "user_id", user.ID)

	return &AuthResult{User: &user, TokenPair: *pair}, nil
}

// Login verifies credentials and rotates the session. A presented refresh
// token (from the cookie channel) is retired; if it is not in the stored
// set the whole set is revoked before a fresh session is opened.
func (s *AuthService) Login(ctx context.Context, email, password, presentedRefresh string) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.New(apperr.Validation, "please provide email and password")
	}

	user, err := s.Repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, apperr.New(apperr.Unauthenticated, "incorrect email or password")
		}
		return nil, apperr.Wrap(apperr.Internal, "cannot look up user", err)
	}
	if !hash.Check(user.PasswordHash, password) {
		l.Warn("login_failed", "user_id", user.ID, "reason", "bad password")
		return nil, apperr.New(apperr.Unauthenticated, "incorrect email or password")
	}

	pair, err := s.startSession(ctx, user, presentedRefresh)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "user_events", user.ID, map[string]interface{}{
		"type":   "user_logged_in",
		"userID": user.ID,
	})
	l.Info("login_successful", "user_id", user.ID)

	return &AuthResult{User: user, TokenPair: *pair}, nil
}

// Refresh rotates the presented refresh token and issues a new pair.
// A token absent from the stored set is treated as replay of an
// already-rotated or stolen token: every session of its subject is
// revoked and the call fails.
func (s *AuthService) Refresh(ctx context.Context, presentedRefresh string) (*AuthResult, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	if presentedRefresh == "" {
		return nil, apperr.New(apperr.Unauthenticated, "you are not logged in")
	}

	presentedHash := hash.SHA256Hex(presentedRefresh)
	user, _, err := s.Repo.FindUserByRefreshHash(ctx, presentedHash)
	if err != nil {
		if errors.Is(err, repo.ErrRefreshNotFound) || errors.Is(err, repo.ErrUserNotFound) {
			s.revokeOnReuse(ctx, presentedRefresh)
			l.Warn("refresh_reuse_detected")
			return nil, apperr.New(apperr.Forbidden, "refresh token is not recognized")
		}
		return nil, apperr.Wrap(apperr.Internal, "cannot look up refresh token", err)
	}

	claims, err := s.Issuer.VerifyRefresh(presentedRefresh)
	if err != nil {
		// The stored row is dead weight either way.
		_, _ = s.Repo.RemoveRefreshToken(ctx, user.ID, presentedHash)
		if errors.Is(err, tokens.ErrTokenExpired) {
			return nil, apperr.New(apperr.Unauthenticated, "refresh token expired, please log in again")
		}
		return nil, apperr.New(apperr.Forbidden, "refresh token is invalid")
	}
	subject, err := claims.UserID()
	if err != nil || subject != user.ID {
		return nil, apperr.New(apperr.Forbidden, "refresh token does not belong to this user")
	}

	access, accessClaims, err := s.Issuer.IssueAccess(user.ID, user.Role)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "cannot issue access token", err)
	}
	refresh, refreshClaims, err := s.Issuer.IssueRefresh(user.ID, user.Role)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "cannot issue refresh token", err)
	}

	next := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: hash.SHA256Hex(refresh),
		JTI:       refreshClaims.ID,
		ExpiresAt: refreshClaims.ExpiresAt.Unix(),
	}
	if err := s.Repo.ConsumeRefreshToken(ctx, user.ID, presentedHash, next); err != nil {
		if errors.Is(err, repo.ErrRefreshNotFound) {
			// Lost the race against a concurrent rotation of the same
			// token: someone else already retired it.
			_ = s.Repo.ClearRefreshTokens(ctx, user.ID)
			l.Warn("refresh_reuse_detected", "user_id", user.ID)
			return nil, apperr.New(apperr.Forbidden, "refresh token is not recognized")
		}
		return nil, apperr.Wrap(apperr.Internal, "cannot rotate refresh token", err)
	}

	return &AuthResult{User: user, TokenPair: TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessClaims.ExpiresAt.Time,
		RefreshExp:   refreshClaims.ExpiresAt.Time,
	}}, nil
}

// Logout removes the presented refresh token from the stored set.
// Logging out twice, or with no active session, is not an error.
func (s *AuthService) Logout(ctx context.Context, presentedRefresh string) error {
	if presentedRefresh == "" {
		return nil
	}

	presentedHash := hash.SHA256Hex(presentedRefresh)
	user, _, err := s.Repo.FindUserByRefreshHash(ctx, presentedHash)
	if err != nil {
		if errors.Is(err, repo.ErrRefreshNotFound) || errors.Is(err, repo.ErrUserNotFound) {
			return nil
		}
		return apperr.Wrap(apperr.Internal, "cannot look up refresh token", err)
	}
	if _, err := s.Repo.RemoveRefreshToken(ctx, user.ID, presentedHash); err != nil {
		return apperr.Wrap(apperr.Internal, "cannot revoke refresh token", err)
	}
	return nil
}

// ForgotPassword issues a one-time reset token and mails it. If delivery
// fails the stored token state is rolled back so the dangling token can
// never be redeemed.
func (s *AuthService) ForgotPassword(ctx context.Context, email, resetURLBase string) error {
	l := logging.FromContext(ctx).With("svc", "auth.forgot_password")

	user, err := s.Repo.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return apperr.New(apperr.NotFound, "there is no user with this email address")
		}
		return apperr.Wrap(apperr.Internal, "cannot look up user", err)
	}

	raw, err := newResetToken()
	if err != nil {
		return apperr.Wrap(apperr.Internal, "cannot generate reset token", err)
	}
	if err := s.Repo.SetResetToken(ctx, user.ID, hash.SHA256Hex(raw), time.Now().Add(resetTokenTTL)); err != nil {
		return apperr.Wrap(apperr.Internal, "cannot store reset token", err)
	}

	body := fmt.Sprintf(
		"Forgot your password? Submit a PATCH request with your new password to:\n%s%s\nIf you didn't forget your password, please ignore this email.",
		resetURLBase, raw,
	)
	msg := mailer.Message{
		To:      user.Email,
		Subject: "Your password reset token (valid for 10 min)",
		Body:    body,
	}
	if err := s.Mailer.Send(ctx, msg); err != nil {
		if clearErr := s.Repo.ClearResetToken(ctx, user.ID); clearErr != nil {
			l.Error("reset_token_rollback_failed", "user_id", user.ID, "error", clearErr)
		}
		l.Error("reset_email_failed", "user_id", user.ID, "error", err)
		return apperr.Wrap(apperr.DeliveryFailed, "there was an error sending the email, try again later", err)
	}

	l.Info("reset_token_sent", "user_id", user.ID)
	return nil
}

// ResetPassword redeems a reset token. A redeemed token cannot be
// redeemed again; every existing session is revoked and a fresh one
// opened.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string) (*AuthResult, error) {
	if len(newPassword) < minPasswordLen {
		return nil, apperr.New(apperr.Validation, fmt.Sprintf("password must have at least %d characters", minPasswordLen))
	}

	user, err := s.Repo.FindByResetToken(ctx, hash.SHA256Hex(rawToken))
	if err != nil {
		if errors.Is(err, repo.ErrResetTokenInvalid) {
			return nil, apperr.New(apperr.Validation, "token is invalid or has expired")
		}
		return nil, apperr.Wrap(apperr.Internal, "cannot look up reset token", err)
	}

	if err := s.setPassword(ctx, user, newPassword); err != nil {
		return nil, err
	}
	if err := s.Repo.ClearResetToken(ctx, user.ID); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "cannot clear reset token", err)
	}

	pair, err := s.startSession(ctx, user, "")
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "user_events", user.ID, map[string]interface{}{
		"type":   "password_reset",
		"userID": user.ID,
	})

	return &AuthResult{User: user, TokenPair: *pair}, nil
}

// UpdatePassword changes the password of an authenticated user after
// re-verifying the old one, then rotates the session.
func (s *AuthService) UpdatePassword(ctx context.Context, userID uint, oldPassword, newPassword string) (*AuthResult, error) {
	if len(newPassword) < minPasswordLen {
		return nil, apperr.New(apperr.Validation, fmt.Sprintf("password must have at least %d characters", minPasswordLen))
	}

	user, err := s.Repo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, apperr.New(apperr.Unauthenticated, "the user belonging to this token no longer exists")
		}
		return nil, apperr.Wrap(apperr.Internal, "cannot look up user", err)
	}
	if !hash.Check(user.PasswordHash, oldPassword) {
		return nil, apperr.New(apperr.Unauthenticated, "your old password is incorrect")
	}

	if err := s.setPassword(ctx, user, newPassword); err != nil {
		return nil, err
	}

	pair, err := s.startSession(ctx, user, "")
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, TokenPair: *pair}, nil
}

// setPassword rehashes, persists and revokes every outstanding session.
// The explicit sequence replaces what the old backend did in save hooks.
func (s *AuthService) setPassword(ctx context.Context, user *models.User, newPassword string) error {
	pwHash, err := hash.Password(newPassword, s.BcryptCost)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "cannot hash password", err)
	}
	if err := s.Repo.SetPassword(ctx, user.ID, pwHash); err != nil {
		return apperr.Wrap(apperr.Internal, "cannot store password", err)
	}
	if err := s.Repo.ClearRefreshTokens(ctx, user.ID); err != nil {
		return apperr.Wrap(apperr.Internal, "cannot revoke sessions", err)
	}
	user.PasswordHash = pwHash
	return nil
}

// startSession implements the rotation step of a credentialed entry
// point. The presented token (if any) is retired first; presenting a
// token that is not in the stored set revokes the whole set before the
// fresh pair is appended.
func (s *AuthService) startSession(ctx context.Context, user *models.User, presentedRefresh string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.session")

	if presentedRefresh != "" {
		removed, err := s.Repo.RemoveRefreshToken(ctx, user.ID, hash.SHA256Hex(presentedRefresh))
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "cannot retire refresh token", err)
		}
		if !removed {
			l.Warn("login_reuse_detected", "user_id", user.ID)
			if err := s.Repo.ClearRefreshTokens(ctx, user.ID); err != nil {
				return nil, apperr.Wrap(apperr.Internal, "cannot revoke sessions", err)
			}
		}
	}

	access, accessClaims, err := s.Issuer.IssueAccess(user.ID, user.Role)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "cannot issue access token", err)
	}
	refresh, refreshClaims, err := s.Issuer.IssueRefresh(user.ID, user.Role)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "cannot issue refresh token", err)
	}

	rt := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: hash.SHA256Hex(refresh),
		JTI:       refreshClaims.ID,
		ExpiresAt: refreshClaims.ExpiresAt.Unix(),
	}
	if err := s.Repo.AddRefreshToken(ctx, rt); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "cannot store refresh token", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessClaims.ExpiresAt.Time,
		RefreshExp:   refreshClaims.ExpiresAt.Time,
	}, nil
}

// revokeOnReuse handles a presented refresh token with no stored row.
// If the signature still identifies a subject, that subject's whole set
// is cleared: the token was rotated away or stolen, and either way no
// session of that user can be trusted.
func (s *AuthService) revokeOnReuse(ctx context.Context, presentedRefresh string) {
	claims, err := s.Issuer.VerifyRefresh(presentedRefresh)
	if err != nil {
		return
	}
	subject, err := claims.UserID()
	if err != nil {
		return
	}
	_ = s.Repo.ClearRefreshTokens(ctx, subject)
}

func (s *AuthService) publish(ctx context.Context, topic string, userID uint, event map[string]interface{}) {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Producer.PublishEvent(pubCtx, topic, fmt.Sprint(userID), event); err != nil {
		logging.FromContext(ctx).Error("kafka_publish_error", "topic", topic, "error", err)
	}
}

func newResetToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
