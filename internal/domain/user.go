// Package domain contains core domain types for the Reborn application.
package domain

import (
	"time"
)

// User represents a phone-authenticated user.
type User struct {
	UserID    string    `json:"user_id"`
	Phone     string    `json:"phone"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MaskedPhone returns the phone number with all but the last four digits hidden.
func (u *User) MaskedPhone() string {
	if len(u.Phone) <= 4 {
		return u.Phone
	}
	masked := make([]byte, len(u.Phone))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(masked)-4:], u.Phone[len(u.Phone)-4:])
	return string(masked)
}
