package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleParent  UserRole = "PARENT"
	RoleStudent UserRole = "STUDENT"
)

// Capabilities name the lesson operations a role unlocks.
const (
	CapabilityBookLessons       = "lessons:book"
	CapabilityRunLessons        = "lessons:clock"
	CapabilityManageConstraints = "constraints:manage"
	CapabilityViewTimesheets    = "timesheets:view"
	CapabilityDeleteLessons     = "lessons:delete"
	CapabilityViewAvailability  = "availability:view"
)

// CanBook reports whether the role may book and cancel lessons.
func (r UserRole) CanBook() bool {
	return r == RoleParent || r == RoleStudent
}

// Capabilities lists what the role may do, for clients deciding which actions to show.
func (r UserRole) Capabilities() []string {
	switch r {
	case RoleAdmin:
		return []string{CapabilityViewAvailability, CapabilityViewTimesheets, CapabilityDeleteLessons}
	case RoleTeacher:
		return []string{CapabilityViewAvailability, CapabilityRunLessons, CapabilityManageConstraints, CapabilityViewTimesheets}
	case RoleParent, RoleStudent:
		return []string{CapabilityViewAvailability, CapabilityBookLessons}
	}
	return []string{}
}

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Actor is the authenticated caller resolved from the access token.
type Actor struct {
	ID    string
	Email string
	Role  UserRole
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
