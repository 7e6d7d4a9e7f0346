// Package models defines server-side data models persisted in the database.
package models

import "time"

// AccountStatus is the lifecycle state of a credential record.
type AccountStatus string

const (
	StatusPending   AccountStatus = "pending"
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
)

// Valid reports whether s is one of the known statuses.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended:
		return true
	}
	return false
}

// Credential is a user's authentication record. Records are never deleted
// by the auth core.
type Credential struct {
	ID              int64
	Email           string
	Username        string
	PasswordHash    string
	Status          AccountStatus
	Role            string
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
