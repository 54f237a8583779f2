package types

import (
	"errors"
	"strings"
	"time"
)

// Role identifies what a profile is allowed to do in the portal.
type Role string

// Supported roles.
const (
	// RoleResident files pipe-damage reports and receives supply schedules.
	RoleResident Role = "resident"

	// RoleOfficer is the panchayat officer who triages, assigns, approves
	// and rejects reports.
	RoleOfficer Role = "panchayat_officer"

	// RoleTechnician is the maintenance technician who executes repairs.
	RoleTechnician Role = "maintenance_technician"

	// RoleController is the water-flow controller who manages schedules.
	RoleController Role = "water_flow_controller"
)

// ErrUnknownRole is returned when a role string is not one of the supported roles.
var ErrUnknownRole = errors.New("unknown role")

// Roles lists every supported role.
func Roles() []Role {
	return []Role{RoleResident, RoleOfficer, RoleTechnician, RoleController}
}

// ParseRole converts a string into a Role.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if !role.Valid() {
		return "", ErrUnknownRole
	}
	return role, nil
}

// Valid reports whether r is a supported role.
func (r Role) Valid() bool {
	switch r {
	case RoleResident, RoleOfficer, RoleTechnician, RoleController:
		return true
	default:
		return false
	}
}

func (r Role) String() string {
	return string(r)
}

// User represents an account credential.
// One row exists per email address.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Email is the lower-cased login address of the user.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// EmailVerified reports whether the signup OTP has been confirmed.
	EmailVerified bool `json:"email_verified" db:"email_verified"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Profile holds the personal details and role of a user.
// Its ID is the ID of the owning User.
type Profile struct {
	// ID equals the owning user's ID.
	ID int `json:"id" db:"id"`

	// FullName is the display name of the user.
	FullName string `json:"full_name" db:"full_name"`

	// Phone is the contact number, used for WhatsApp notifications.
	Phone string `json:"phone" db:"phone"`

	// Address is the postal address of the user.
	Address string `json:"address" db:"address"`

	// Role is the user's role within the portal.
	Role Role `json:"role" db:"role"`
}

// Account is the merged view of a user and its profile returned by the API.
type Account struct {
	User
	Profile Profile `json:"profile"`
}

// Role returns the account's role.
func (a Account) Role() Role {
	return a.Profile.Role
}
