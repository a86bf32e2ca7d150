package models

import (
	"time"
)

// User is the local demo identity stored under the "user" key
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastLoginAt  time.Time `json:"lastLoginAt"`
}

// UserContext represents the authenticated caller of an HTTP request
type UserContext struct {
	UserID string
	Email  string
	Name   string
}

// DisplayName returns the name shown in the profile, falling back to the email
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if u.Email != "" {
		return u.Email
	}
	return "User"
}

// Public returns a copy without secret material
func (u *User) Public() User {
	cp := *u
	cp.PasswordHash = ""
	return cp
}
