package tokens

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenExpired means the signature checked out but the token is
	// past its expiry. Clients holding a refresh token may silently
	// refresh on this error.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid means the token is malformed, unsigned or signed
	// with the wrong secret. The only recovery is re-authentication.
	ErrTokenInvalid = errors.New("token invalid")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// UserID decodes the numeric subject of the claim set.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrTokenInvalid
	}
	return uint(id), nil
}

// Issuer signs and verifies access and refresh tokens. Access and refresh
// secrets are distinct so compromise of one does not compromise the other.
// Secrets and TTLs are injected at construction, never read from globals.
type Issuer struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

func (i *Issuer) IssueAccess(userID uint, role string) (string, *Claims, error) {
	return i.sign(userID, role, "", i.AccessTTL, i.AccessSecret)
}

// IssueRefresh mints a refresh token with a fresh JTI so two tokens for
// the same user never collide.
func (i *Issuer) IssueRefresh(userID uint, role string) (string, *Claims, error) {
	return i.sign(userID, role, uuid.NewString(), i.RefreshTTL, i.RefreshSecret)
}

func (i *Issuer) VerifyAccess(raw string) (*Claims, error) {
	return parse(raw, i.AccessSecret)
}

func (i *Issuer) VerifyRefresh(raw string) (*Claims, error) {
	return parse(raw, i.RefreshSecret)
}

func (i *Issuer) sign(userID uint, role, jti string, ttl time.Duration, secret []byte) (string, *Claims, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", nil, err
	}
	return signed, &claims, nil
}

func parse(raw string, secret []byte) (*Claims, error) {
	var claims Claims
	tkn, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !tkn.Valid {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}
