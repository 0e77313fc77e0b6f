package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleStudent UserRole = "STUDENT"
	RoleParent  UserRole = "PARENT"
)

// User is a row of the external user roster.
type User struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	ImageRef  *string   `db:"image_ref" json:"-"`
	Role      UserRole  `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Child is a row of the child roster. Children have no login of their own.
type Child struct {
	ID        string    `db:"id" json:"id"`
	ParentID  string    `db:"parent_id" json:"parent_id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	ImageRef  *string   `db:"image_ref" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Profile is the display shape of a person in aggregated views.
type Profile struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	ImageURL string `json:"image_url"`
}
