package models

import (
	"strconv"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Email    string `gorm:"uniqueIndex;not null"`
	Password string `json:"-"`
}

// Key is the user id as carried in tokens and store calls.
func (u User) Key() string {
	return strconv.FormatUint(uint64(u.ID), 10)
}
