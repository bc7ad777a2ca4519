// Package domain contains core business types for the trademark portal.
//
// This file defines the User record, sessions and the parameter structs
// passed between handlers and services.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus is the account state shown on the admin dashboard.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusLocked   UserStatus = "locked"
)

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusInactive, UserStatusLocked:
		return true
	}
	return false
}

// Sex is the self-declared sex captured at registration.
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexOther  Sex = "other"
)

// Valid reports whether s is one of the accepted values.
func (s Sex) Valid() bool {
	switch s {
	case SexMale, SexFemale, SexOther:
		return true
	}
	return false
}

// User is a registered portal user.
//
// PasswordHash is a bcrypt hash. The raw password is never stored and no
// code path can recover it.
type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	Age          int
	Organization string
	JobRole      JobRole
	Sex          Sex
	Location     string
	LastLogin    *time.Time
	Status       UserStatus
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayName returns the user's name or email if name is empty.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// CanLogin reports whether the account may start a new session.
func (u *User) CanLogin() bool {
	return u.Status != UserStatusLocked
}

// Session represents an authenticated session.
//
// Only the SHA-256 hash of the token is stored. The raw token is handed to
// the client once, at login.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	IPAddress string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired returns true if the session has expired.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// RegisterParams holds the raw registration form values. Age stays a string
// because the form field is free text and parsing is part of validation.
type RegisterParams struct {
	Name         string
	Age          string
	Email        string
	Password     string
	Organization string
	JobRole      string
	Sex          string
	Location     string
}

// LoginMeta carries request details recorded with a login.
type LoginMeta struct {
	IP        string
	UserAgent string
}

// LoginResult contains the result of a successful login.
type LoginResult struct {
	User  *User
	Token string // Raw session token, only returned once
}

// ResetPasswordParams contains the recovery form values.
type ResetPasswordParams struct {
	Token           string
	NewPassword     string
	ConfirmPassword string
}

// ListUsersParams filters the admin listing.
type ListUsersParams struct {
	Query         string
	ShowPasswords bool
}

// UserRow is one rendered row of the admin table.
type UserRow struct {
	ID              uuid.UUID
	Name            string
	Email           string
	PasswordDisplay string
	Organization    string
	RoleLabel       string
	Status          UserStatus
	LastLogin       *time.Time
	IsAdmin         bool
}

// UserListing is the admin dashboard payload.
type UserListing struct {
	Rows          []UserRow
	Total         int
	Query         string
	ShowPasswords bool
}
