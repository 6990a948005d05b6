package models

import (
	"time"
)

type User struct {
	ID                     uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                   string     `gorm:"not null"                 json:"name"`
	Email                  string     `gorm:"uniqueIndex;not null"     json:"email"`
	PasswordHash           string     `gorm:"not null"                 json:"-"`
	Role                   string     `gorm:"not null;default:user"    json:"role"`
	PasswordChangedAt      *time.Time `json:"-"`
	PasswordResetTokenHash *string    `gorm:"index"                    json:"-"`
	PasswordResetExpiresAt *time.Time `json:"-"`
	Active                 bool       `gorm:"not null;default:true"    json:"-"`
	CreatedAt              time.Time  `json:"created_at"`
}

// PasswordChangedAfter reports whether the password was mutated after the
// given token issue time. Users that never changed their password always
// return false.
func (u *User) PasswordChangedAfter(issuedAt time.Time) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return u.PasswordChangedAt.After(issuedAt)
}

// RefreshToken rows are the server-side session set: a refresh token is
// valid iff a row with its sha256 digest exists for the user.
type RefreshToken struct {
	ID        uint   `gorm:"primaryKey"           json:"id"`
	UserID    uint   `gorm:"index;not null"       json:"user_id"`
	TokenHash string `gorm:"uniqueIndex;not null" json:"-"`
	JTI       string `gorm:"uniqueIndex;not null" json:"jti"`
	ExpiresAt int64  `gorm:"not null"             json:"expires_at"`
}

type Product struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Category        string    `gorm:"not null;index"           json:"category"`
	Brand           string    `gorm:"not null"                 json:"brand"`
	Title           string    `gorm:"unique;not null"          json:"title"`
	Slug            string    `gorm:"index"                    json:"slug"`
	Description     string    `gorm:"not null"                 json:"description"`
	Price           float64   `gorm:"not null"                 json:"price"`
	Count           uint      `json:"count"`
	RatingsAverage  float64   `gorm:"not null;default:4.5"     json:"ratings_average"`
	RatingsQuantity uint      `gorm:"not null;default:0"       json:"ratings_quantity"`
	CreatedAt       time.Time `json:"created_at"`
}

type CartItem struct {
	ID        uint `gorm:"primaryKey"                 json:"id"`
	UserID    uint `gorm:"index;not null"             json:"user_id"`
	ProductID uint `gorm:"not null"                   json:"product_id"`
	Quantity  uint `gorm:"default:1;check:quantity>0" json:"quantity"`
}

const (
	OrderPendingPayment = "pendingPayment"
	OrderPreparing      = "preparing"
	OrderShipping       = "shipping"
	OrderCompleted      = "completed"
	OrderCanceled       = "canceled"
)

type Order struct {
	ID        uint        `gorm:"primaryKey"     json:"id"`
	UserID    uint        `gorm:"index;not null" json:"user_id"`
	Status    string      `gorm:"not null"       json:"status"`
	Total     float64     `gorm:"not null"       json:"total"`
	Items     []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	CreatedAt time.Time   `json:"created_at"`
}

type OrderItem struct {
	ID        uint    `gorm:"primaryKey"     json:"id"`
	OrderID   uint    `gorm:"index;not null" json:"order_id"`
	UserID    uint    `gorm:"index;not null" json:"user_id"`
	ProductID uint    `gorm:"not null"       json:"product_id"`
	Quantity  uint    `gorm:"not null"       json:"quantity"`
	Price     float64 `gorm:"not null"       json:"price"`
}

type Review struct {
	ID        uint      `gorm:"primaryKey"                               json:"id"`
	ProductID uint      `gorm:"index;not null;uniqueIndex:idx_prod_user" json:"product_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_prod_user"       json:"user_id"`
	Review    string    `gorm:"not null"                                 json:"review"`
	Rating    uint      `gorm:"not null"                                 json:"rating"`
	CreatedAt time.Time `json:"created_at"`
}
