package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole string

const (
	// RoleAdmin manages everything
	RoleAdmin UserRole = "admin"
	// RoleProjectAdmin manages projects they belong to
	RoleProjectAdmin UserRole = "project_admin"
	// RoleMember is the default role
	RoleMember UserRole = "member"
)

// User is the account model. Token and session columns are owned by the
// account and only mutated through the CredentialStore.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID        uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Role      UserRole  `bun:"user_role,notnull" json:"role"`
	Username  string    `bun:"username,notnull,unique" json:"username"`
	Email     string    `bun:"email,notnull,unique" json:"email"`
	FullName  string    `bun:"full_name" json:"full_name,omitempty"`
	AvatarURL string    `bun:"avatar_url" json:"avatar_url,omitempty"`

	PasswordHash  string `bun:"password_hash,notnull" json:"-"`
	EmailVerified bool   `bun:"is_email_verified,notnull" json:"is_email_verified"`

	// Expiries are unix microseconds so the store compares them exactly.
	EmailVerificationToken  string `bun:"email_verification_token,nullzero" json:"-"`
	EmailVerificationExpiry int64  `bun:"email_verification_expiry,nullzero" json:"-"`
	LastVerificationToken   string `bun:"last_verification_token,nullzero" json:"-"`
	ForgotPasswordToken     string `bun:"forgot_password_token,nullzero" json:"-"`
	ForgotPasswordExpiry    int64  `bun:"forgot_password_expiry,nullzero" json:"-"`
	RefreshToken            string `bun:"refresh_token,nullzero" json:"-"`

	LoginAttempts     int        `bun:"login_attempts,notnull" json:"-"`
	LoginAttemptAt    *time.Time `bun:"login_attempt_at,nullzero" json:"-"`
	LoggedInAt        *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	PasswordChangedAt *time.Time `bun:"password_changed_at,nullzero" json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// HasVerificationToken reports whether a verification token is outstanding
func (u *User) HasVerificationToken() bool {
	return u != nil && u.EmailVerificationToken != "" && u.EmailVerificationExpiry != 0
}

// HasResetToken reports whether a password reset token is outstanding
func (u *User) HasResetToken() bool {
	return u != nil && u.ForgotPasswordToken != "" && u.ForgotPasswordExpiry != 0
}

// VerificationExpiresAt returns the verification token expiry, zero if absent
func (u *User) VerificationExpiresAt() time.Time {
	return fromUnixMicro(u.EmailVerificationExpiry)
}

// ResetExpiresAt returns the password reset token expiry, zero if absent
func (u *User) ResetExpiresAt() time.Time {
	return fromUnixMicro(u.ForgotPasswordExpiry)
}

// HasSession reports whether the account holds an active refresh token
func (u *User) HasSession() bool {
	return u != nil && u.RefreshToken != ""
}

// Sanitized returns a copy safe to hand to transport layers
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.PasswordHash = ""
	c.EmailVerificationToken = ""
	c.EmailVerificationExpiry = 0
	c.LastVerificationToken = ""
	c.ForgotPasswordToken = ""
	c.ForgotPasswordExpiry = 0
	c.RefreshToken = ""
	return &c
}

// NormalizeIdentity lower-cases and trims usernames and emails
func NormalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func toUnixMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromUnixMicro(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}
