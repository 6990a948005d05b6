package repo

import (
	"gorm.io/gorm"
)

// Repo is the sole writer of user and session state.
type Repo struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{DB: db}
}
