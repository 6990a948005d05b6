package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/elkhoreby/shop-api/internal/models"
)

// ErrRefreshNotFound means the presented token is not in the stored set.
// Callers treat this as possible reuse of an already-rotated token.
var ErrRefreshNotFound = errors.New("refresh token not found")

func (r *Repo) AddRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	return r.DB.WithContext(ctx).Create(rt).Error
}

// RemoveRefreshToken deletes the presented token row if it exists and
// reports whether it was there. Idempotent.
func (r *Repo) RemoveRefreshToken(ctx context.Context, userID uint, tokenHash string) (bool, error) {
	res := r.DB.WithContext(ctx).
		Where("user_id = ? AND token_hash = ?", userID, tokenHash).
		Delete(&models.RefreshToken{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ClearRefreshTokens revokes every session for the user. Used on reuse
// detection and on password change.
func (r *Repo) ClearRefreshTokens(ctx context.Context, userID uint) error {
	return r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.RefreshToken{}).Error
}

// ConsumeRefreshToken retires the presented token and stores its
// replacement in one transaction. The delete doubles as the
// compare-and-swap: of two concurrent rotations presenting the same
// token, only one observes RowsAffected == 1; the other gets
// ErrRefreshNotFound and must be treated as reuse.
func (r *Repo) ConsumeRefreshToken(ctx context.Context, userID uint, presentedHash string, next *models.RefreshToken) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND token_hash = ?", userID, presentedHash).
			Delete(&models.RefreshToken{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRefreshNotFound
		}
		return tx.Create(next).Error
	})
}

// FindUserByRefreshHash resolves the owner of a stored refresh token.
func (r *Repo) FindUserByRefreshHash(ctx context.Context, tokenHash string) (*models.User, *models.RefreshToken, error) {
	var rt models.RefreshToken
	if err := r.DB.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&rt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrRefreshNotFound
		}
		return nil, nil, err
	}

	user, err := r.FindByID(ctx, rt.UserID)
	if err != nil {
		return nil, nil, err
	}
	return user, &rt, nil
}

func (r *Repo) CountRefreshTokens(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}
