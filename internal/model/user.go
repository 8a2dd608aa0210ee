package model

import "time"

// Roles understood by the role middleware.
const (
	RoleStudent = "STUDENT"
	RoleTeacher = "TEACHER"
)

// User represents an account record as stored in the `users` table.  The
// study room only needs a stable id, a login email and a display name; the
// student number and name used on seat events live in the profile store so a
// student can correct them without touching the account.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Email        – unique email address (lower case).
//	DisplayName  – name shown before a profile exists.
//	PasswordHash – bcrypt hashed password.
//	Role         – STUDENT or TEACHER.
//	IsActive     – whether the account may sign in.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	DisplayName  string    // users.display_name
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// RefreshToken models an entry in the `refresh_tokens` table.  Only the
// SHA-256 hash of the token handed to the client is stored.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
