package model

import (
	"fmt"
	"time"
)

// User is an account that can authenticate against the service.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Roles.
const (
	RoleAdmin     = "admin"
	RoleStaff     = "staff"
	RoleUserAdmin = "user-admin"
)

// MinPasswordLength is the shortest password accepted on create or change.
const MinPasswordLength = 6

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleStaff, RoleUserAdmin:
		return true
	}
	return false
}

// ValidatePassword checks the password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	return nil
}
