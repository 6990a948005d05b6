package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/elkhoreby/shop-api/internal/models"
)

func initTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to connect to in-memory db")

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.Product{},
		&models.CartItem{},
		&models.Order{},
		&models.OrderItem{},
		&models.Review{},
	))
	return db
}

func seedUser(t *testing.T, r *Repo, email string) *models.User {
	t.Helper()

	user := &models.User{
		Name:         "test user",
		Email:        email,
		PasswordHash: "x",
		Role:         "user",
		Active:       true,
	}
	require.NoError(t, r.CreateUser(context.Background(), user))
	return user
}

func seedToken(t *testing.T, r *Repo, userID uint, hash, jti string) {
	t.Helper()
	require.NoError(t, r.AddRefreshToken(context.Background(), &models.RefreshToken{
		UserID:    userID,
		TokenHash: hash,
		JTI:       jti,
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}))
}

func TestConsumeRotatesStoredSet(t *testing.T) {
	r := New(initTestDB(t))
	ctx := context.Background()
	user := seedUser(t, r, "a@example.com")

	seedToken(t, r, user.ID, "hash-a", "jti-a")

	next := &models.RefreshToken{
		UserID:    user.ID,
		TokenHash: "hash-b",
		JTI:       "jti-b",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	}
	require.NoError(t, r.ConsumeRefreshToken(ctx, user.ID, "hash-a", next))

	count, err := r.CountRefreshTokens(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	_, rt, err := r.FindUserByRefreshHash(ctx, "hash-b")
	require.NoError(t, err)
	require.Equal(t, "jti-b", rt.JTI)

	_, _, err = r.FindUserByRefreshHash(ctx, "hash-a")
	require.ErrorIs(t, err, ErrRefreshNotFound)
}

func TestConsumeTwiceFailsSecondTime(t *testing.T) {
	r := New(initTestDB(t))
	ctx := context.Background()
	user := seedUser(t, r, "a@example.com")

	seedToken(t, r, user.ID, "hash-a", "jti-a")

	first := &models.RefreshToken{UserID: user.ID, TokenHash: "hash-b", JTI: "jti-b", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	require.NoError(t, r.ConsumeRefreshToken(ctx, user.ID, "hash-a", first))

	// Presenting the already-consumed token loses the compare-and-swap.
	second := &models.RefreshToken{UserID: user.ID, TokenHash: "hash-c", JTI: "jti-c", ExpiresAt: time.Now().Add(time.Hour).Unix()}
	err := r.ConsumeRefreshToken(ctx, user.ID, "hash-a", second)
	require.ErrorIs(t, err, ErrRefreshNotFound)

	count, err := r.CountRefreshTokens(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestConcurrentConsumeHasOneWinner(t *testing.T) {
	db := initTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	r := New(db)
	ctx := context.Background()
	user := seedUser(t, r, "a@example.com")
	seedToken(t, r, user.ID, "hash-a", "jti-a")

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := &models.RefreshToken{
				UserID:    user.ID,
				TokenHash: fmt.Sprintf("hash-next-%d", i),
				JTI:       fmt.Sprintf("jti-next-%d", i),
				ExpiresAt: time.Now().Add(time.Hour).Unix(),
			}
			errs[i] = r.ConsumeRefreshToken(ctx, user.ID, "hash-a", next)
		}(i)
	}
	wg.Wait()

	// Exactly one rotation wins the compare-and-swap; the other must see
	// the token as already consumed.
	require.NotEqual(t, errs[0] == nil, errs[1] == nil)
	loser := errs[0]
	if loser == nil {
		loser = errs[1]
	}
	require.ErrorIs(t, loser, ErrRefreshNotFound)

	count, err := r.CountRefreshTokens(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestClearRevokesWholeSet(t *testing.T) {
	r := New(initTestDB(t))
	ctx := context.Background()
	user := seedUser(t, r, "a@example.com")

	seedToken(t, r, user.ID, "hash-a", "jti-a")
	seedToken(t, r, user.ID, "hash-b", "jti-b")

	require.NoError(t, r.ClearRefreshTokens(ctx, user.ID))

	count, err := r.CountRefreshTokens(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New(initTestDB(t))
	ctx := context.Background()
	user := seedUser(t, r, "a@example.com")

	seedToken(t, r, user.ID, "hash-a", "jti-a")

	removed, err := r.RemoveRefreshToken(ctx, user.ID, "hash-a")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = r.RemoveRefreshToken(ctx, user.ID, "hash-a")
	require.NoError(t, err)
	require.False(t, removed)
}
