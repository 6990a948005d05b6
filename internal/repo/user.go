package repo

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/elkhoreby/shop-api/internal/models"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrEmailTaken        = errors.New("email already taken")
	ErrEmailInvalid      = errors.New("email invalid")
	ErrResetTokenInvalid = errors.New("reset token invalid or expired")
)

// active scopes every user lookup to non-deactivated accounts.
func (r *Repo) active(ctx context.Context) *gorm.DB {
	return r.DB.WithContext(ctx).Where("active = ?", true)
}

func (r *Repo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.active(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *Repo) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.active(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *Repo) CreateUser(ctx context.Context, u *models.User) error {
	tx := r.DB.WithContext(ctx).Where("email = ?", u.Email).FirstOrCreate(u)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrEmailTaken
	}
	return nil
}

// SetPassword stores a new password hash and records the mutation time.
// The timestamp is backdated by one second so the token minted right
// after the change is not itself caught by the issued-before check.
func (r *Repo) SetPassword(ctx context.Context, userID uint, passwordHash string) error {
	changedAt := time.Now().Add(-time.Second)
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"password_hash":       passwordHash,
			"password_changed_at": changedAt,
		}).Error
}

// SetResetToken stores the digest and expiry of an outstanding reset
// token. Both fields are always written together.
func (r *Repo) SetResetToken(ctx context.Context, userID uint, tokenHash string, expiresAt time.Time) error {
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"password_reset_token_hash": tokenHash,
			"password_reset_expires_at": expiresAt,
		}).Error
}

func (r *Repo) ClearResetToken(ctx context.Context, userID uint) error {
	return r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"password_reset_token_hash": nil,
			"password_reset_expires_at": nil,
		}).Error
}

func (r *Repo) FindByResetToken(ctx context.Context, tokenHash string) (*models.User, error) {
	var user models.User
	err := r.active(ctx).
		Where("password_reset_token_hash = ?", tokenHash).
		Where("password_reset_expires_at > ?", time.Now()).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, err
	}
	return &user, nil
}

// UpdateProfile changes name and email. The email is stored in the same
// normalized form the login and reset lookups use, so an updated account
// stays reachable.
func (r *Repo) UpdateProfile(ctx context.Context, userID uint, name, email string) (*models.User, error) {
	updates := map[string]interface{}{}
	if name != "" {
		updates["name"] = name
	}
	if email != "" {
		email = strings.ToLower(strings.TrimSpace(email))
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			return nil, ErrEmailInvalid
		}

		var taken int64
		if err := r.DB.WithContext(ctx).Model(&models.User{}).
			Where("email = ? AND id <> ?", email, userID).
			Count(&taken).Error; err != nil {
			return nil, err
		}
		if taken > 0 {
			return nil, ErrEmailTaken
		}
		updates["email"] = email
	}
	if len(updates) > 0 {
		if err := r.DB.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", userID).
			Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return r.FindByID(ctx, userID)
}

// Deactivate soft-deletes a user. All refresh tokens go with it so no
// session survives the account.
func (r *Repo) Deactivate(ctx context.Context, userID uint) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("active", false).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error
	})
}

func (r *Repo) ListUsers(ctx context.Context, offset, limit int) ([]models.User, int64, error) {
	var total int64
	if err := r.active(ctx).Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []models.User
	if err := r.active(ctx).Order("id ASC").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *Repo) DeleteUser(ctx context.Context, userID uint) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.User{}, userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return tx.Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error
	})
}
