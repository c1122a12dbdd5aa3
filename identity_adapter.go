package auth

// UserIdentity is the snapshot of an account that access tokens are minted from
type UserIdentity struct {
	id       string
	username string
	email    string
	role     UserRole
	verified bool
}

var _ Identity = UserIdentity{}

// NewIdentityFromUser snapshots user, a nil user yields a nil Identity
func NewIdentityFromUser(user *User) Identity {
	if user == nil {
		return nil
	}
	return UserIdentity{
		id:       user.ID.String(),
		username: user.Username,
		email:    user.Email,
		role:     user.Role,
		verified: user.EmailVerified,
	}
}

func (u UserIdentity) ID() string       { return u.id }
func (u UserIdentity) Username() string { return u.username }
func (u UserIdentity) Email() string    { return u.email }
func (u UserIdentity) Role() string     { return string(u.role) }

// Verified reports whether the account email was verified at snapshot time
func (u UserIdentity) Verified() bool { return u.verified }
