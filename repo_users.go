package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Column names used in preconditions and patches
const (
	ColumnID                      = "id"
	ColumnUsername                = "username"
	ColumnEmail                   = "email"
	ColumnFullName                = "full_name"
	ColumnPasswordHash            = "password_hash"
	ColumnEmailVerified           = "is_email_verified"
	ColumnEmailVerificationToken  = "email_verification_token"
	ColumnEmailVerificationExpiry = "email_verification_expiry"
	ColumnLastVerificationToken   = "last_verification_token"
	ColumnForgotPasswordToken     = "forgot_password_token"
	ColumnForgotPasswordExpiry    = "forgot_password_expiry"
	ColumnRefreshToken            = "refresh_token"
	ColumnLoginAttempts           = "login_attempts"
	ColumnLoginAttemptAt          = "login_attempt_at"
	ColumnLoggedInAt              = "loggedin_at"
	ColumnPasswordChangedAt       = "password_changed_at"
	ColumnUpdatedAt               = "updated_at"
)

// Condition is a single predicate on a users column
type Condition struct {
	Column string
	Op     string
	Value  any
}

// Precondition is a conjunction of conditions
type Precondition []Condition

// Eq matches column = value
func Eq(column string, value any) Condition {
	return Condition{Column: column, Op: "=", Value: value}
}

// Gt matches column > value
func Gt(column string, value any) Condition {
	return Condition{Column: column, Op: ">", Value: value}
}

// IsNull matches column IS NULL
func IsNull(column string) Condition {
	return Condition{Column: column, Op: "IS NULL"}
}

// NotNull matches column IS NOT NULL
func NotNull(column string) Condition {
	return Condition{Column: column, Op: "IS NOT NULL"}
}

// Patch maps columns to new values, a nil value stores NULL
type Patch map[string]any

// CredentialStore owns the persisted credential state of accounts. Every
// mutation that depends on the current token state expresses that state as
// a precondition of a single conditional update.
type CredentialStore interface {
	FindOne(ctx context.Context, pre Precondition) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByIdentity(ctx context.Context, identity string) (*User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	Create(ctx context.Context, user *User) (*User, error)
	UpdateConditional(ctx context.Context, id uuid.UUID, pre Precondition, patch Patch) (*User, error)

	SetVerificationToken(ctx context.Context, id uuid.UUID, hashed string, expiry time.Time) error
	ClearVerificationToken(ctx context.Context, id uuid.UUID) error
	ConsumeVerificationToken(ctx context.Context, hashed string, now time.Time) (*User, error)
	FindByConsumedVerificationToken(ctx context.Context, hashed string) (*User, error)

	SetResetToken(ctx context.Context, id uuid.UUID, hashed string, expiry time.Time) error
	ClearResetToken(ctx context.Context, id uuid.UUID) error
	ConsumeResetToken(ctx context.Context, hashed, passwordHash string, now time.Time) (*User, error)
	SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error

	SetRefreshToken(ctx context.Context, id uuid.UUID, hashed string) error
	RotateRefreshToken(ctx context.Context, id uuid.UUID, presentedHash, nextHash string) (*User, error)

	TrackAttemptedLogin(ctx context.Context, user *User, attempts int) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
}

type credentialStore struct {
	repo repository.Repository[*User]
	db   bun.IDB
	now  func() time.Time
}

var _ CredentialStore = (*credentialStore)(nil)

// CredentialStoreOption customizes the store
type CredentialStoreOption func(*credentialStore)

// WithCredentialStoreClock sets the clock used for bookkeeping timestamps
func WithCredentialStoreClock(now func() time.Time) CredentialStoreOption {
	return func(s *credentialStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewCredentialStore returns a bun backed CredentialStore
func NewCredentialStore(db *bun.DB, opts ...CredentialStoreOption) CredentialStore {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	s := &credentialStore{
		repo: repo,
		db:   db,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *credentialStore) FindOne(ctx context.Context, pre Precondition) (*User, error) {
	record := &User{}
	q := s.db.NewSelect().Model(record)
	for _, c := range pre {
		applyCondition(q.QueryBuilder(), c)
	}

	if err := q.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError(ErrNotFound, nil)
		}
		return nil, persistenceFailure(err, "find user")
	}
	return record, nil
}

func (s *credentialStore) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	record, err := s.repo.GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, newError(ErrNotFound, map[string]any{"id": id.String()})
		}
		return nil, persistenceFailure(err, "find user by id")
	}
	return record, nil
}

func (s *credentialStore) FindByIdentity(ctx context.Context, identity string) (*User, error) {
	value := NormalizeIdentity(identity)
	if value == "" {
		return nil, newError(ErrNotFound, nil)
	}

	record := &User{}
	err := s.db.NewSelect().
		Model(record).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("?TableAlias.username = ?", value).
				WhereOr("?TableAlias.email = ?", value)
		}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError(ErrNotFound, nil)
		}
		return nil, persistenceFailure(err, "find user by identity")
	}
	return record, nil
}

func (s *credentialStore) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*User)(nil)).
		Where("?TableAlias.username = ?", NormalizeIdentity(username)).
		WhereOr("?TableAlias.email = ?", NormalizeIdentity(email)).
		Exists(ctx)
	if err != nil {
		return false, persistenceFailure(err, "check duplicate identity")
	}
	return exists, nil
}

func (s *credentialStore) Create(ctx context.Context, user *User) (*User, error) {
	prepareUserDefaults(user, s.now())

	created, err := s.repo.CreateTx(ctx, s.db, user)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, wrapError(ErrDuplicateIdentity, err, map[string]any{
				"username": user.Username,
				"email":    user.Email,
			})
		}
		return nil, persistenceFailure(err, "create user")
	}
	return created, nil
}

// UpdateConditional applies patch to the account only when every condition
// in pre holds, in a single statement. It returns ErrPreconditionFailed when
// no row matched.
func (s *credentialStore) UpdateConditional(ctx context.Context, id uuid.UUID, pre Precondition, patch Patch) (*User, error) {
	if err := s.updateWhere(ctx, append(Precondition{Eq(ColumnID, id.String())}, pre...), patch); err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (s *credentialStore) updateWhere(ctx context.Context, pre Precondition, patch Patch) error {
	q := s.db.NewUpdate().Model((*User)(nil))

	columns := make([]string, 0, len(patch))
	for column := range patch {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	for _, column := range columns {
		q = q.Set("? = ?", bun.Ident(column), patch[column])
	}
	if _, ok := patch[ColumnUpdatedAt]; !ok {
		q = q.Set("? = ?", bun.Ident(ColumnUpdatedAt), s.now().UTC())
	}

	for _, c := range pre {
		applyCondition(q.QueryBuilder(), c)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return wrapError(ErrDuplicateIdentity, err, nil)
		}
		return persistenceFailure(err, "update user")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return persistenceFailure(err, "update user rows affected")
	}
	if n == 0 {
		return newError(ErrPreconditionFailed, nil)
	}
	return nil
}

func (s *credentialStore) SetVerificationToken(ctx context.Context, id uuid.UUID, hashed string, expiry time.Time) error {
	return s.patchByID(ctx, id, Patch{
		ColumnEmailVerificationToken:  hashed,
		ColumnEmailVerificationExpiry: toUnixMicro(expiry),
	})
}

func (s *credentialStore) ClearVerificationToken(ctx context.Context, id uuid.UUID) error {
	return s.patchByID(ctx, id, Patch{
		ColumnEmailVerificationToken:  nil,
		ColumnEmailVerificationExpiry: nil,
	})
}

// ConsumeVerificationToken marks the owner of a live token as verified and
// clears the token in the same statement.
func (s *credentialStore) ConsumeVerificationToken(ctx context.Context, hashed string, now time.Time) (*User, error) {
	if hashed == "" {
		return nil, newError(ErrTokenInvalidOrExpired, nil)
	}

	live := Precondition{
		Eq(ColumnEmailVerificationToken, hashed),
		Gt(ColumnEmailVerificationExpiry, toUnixMicro(now)),
	}

	owner, err := s.FindOne(ctx, live)
	if err != nil {
		if IsKind(err, TextCodeNotFound) {
			return nil, newError(ErrTokenInvalidOrExpired, nil)
		}
		return nil, err
	}

	user, err := s.UpdateConditional(ctx, owner.ID, live, Patch{
		ColumnEmailVerified:           true,
		ColumnEmailVerificationToken:  nil,
		ColumnEmailVerificationExpiry: nil,
		ColumnLastVerificationToken:   hashed,
	})
	if err != nil {
		if IsKind(err, ErrPreconditionFailed.TextCode) {
			return nil, newError(ErrTokenInvalidOrExpired, nil)
		}
		return nil, err
	}
	return user, nil
}

func (s *credentialStore) FindByConsumedVerificationToken(ctx context.Context, hashed string) (*User, error) {
	if hashed == "" {
		return nil, newError(ErrNotFound, nil)
	}
	return s.FindOne(ctx, Precondition{Eq(ColumnLastVerificationToken, hashed)})
}

func (s *credentialStore) SetResetToken(ctx context.Context, id uuid.UUID, hashed string, expiry time.Time) error {
	return s.patchByID(ctx, id, Patch{
		ColumnForgotPasswordToken:  hashed,
		ColumnForgotPasswordExpiry: toUnixMicro(expiry),
	})
}

func (s *credentialStore) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	return s.patchByID(ctx, id, Patch{
		ColumnForgotPasswordToken:  nil,
		ColumnForgotPasswordExpiry: nil,
	})
}

// ConsumeResetToken stores the new password hash for the owner of a live
// reset token and clears the token in the same statement.
func (s *credentialStore) ConsumeResetToken(ctx context.Context, hashed, passwordHash string, now time.Time) (*User, error) {
	if hashed == "" {
		return nil, newError(ErrTokenInvalidOrExpired, nil)
	}

	live := Precondition{
		Eq(ColumnForgotPasswordToken, hashed),
		Gt(ColumnForgotPasswordExpiry, toUnixMicro(now)),
	}

	owner, err := s.FindOne(ctx, live)
	if err != nil {
		if IsKind(err, TextCodeNotFound) {
			return nil, newError(ErrTokenInvalidOrExpired, nil)
		}
		return nil, err
	}

	user, err := s.UpdateConditional(ctx, owner.ID, live, Patch{
		ColumnPasswordHash:         passwordHash,
		ColumnForgotPasswordToken:  nil,
		ColumnForgotPasswordExpiry: nil,
		ColumnPasswordChangedAt:    s.now().UTC(),
	})
	if err != nil {
		if IsKind(err, ErrPreconditionFailed.TextCode) {
			return nil, newError(ErrTokenInvalidOrExpired, nil)
		}
		return nil, err
	}
	return user, nil
}

// SetPassword stores a new hash and drops any pending reset token.
func (s *credentialStore) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return s.patchByID(ctx, id, Patch{
		ColumnPasswordHash:         passwordHash,
		ColumnForgotPasswordToken:  nil,
		ColumnForgotPasswordExpiry: nil,
		ColumnPasswordChangedAt:    s.now().UTC(),
	})
}

// SetRefreshToken replaces the stored refresh token hash, an empty hash logs out.
func (s *credentialStore) SetRefreshToken(ctx context.Context, id uuid.UUID, hashed string) error {
	var value any
	if hashed != "" {
		value = hashed
	}
	return s.patchByID(ctx, id, Patch{ColumnRefreshToken: value})
}

// RotateRefreshToken swaps presentedHash for nextHash only if presentedHash
// is the current one. ErrPreconditionFailed means the presented token is stale.
func (s *credentialStore) RotateRefreshToken(ctx context.Context, id uuid.UUID, presentedHash, nextHash string) (*User, error) {
	if presentedHash == "" || nextHash == "" {
		return nil, newError(ErrPreconditionFailed, nil)
	}
	return s.UpdateConditional(ctx, id,
		Precondition{Eq(ColumnRefreshToken, presentedHash)},
		Patch{ColumnRefreshToken: nextHash},
	)
}

func (s *credentialStore) TrackAttemptedLogin(ctx context.Context, user *User, attempts int) error {
	return s.patchByID(ctx, user.ID, Patch{
		ColumnLoginAttempts:  attempts,
		ColumnLoginAttemptAt: s.now().UTC(),
	})
}

func (s *credentialStore) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return s.patchByID(ctx, user.ID, Patch{
		ColumnLoggedInAt:     s.now().UTC(),
		ColumnLoginAttempts:  0,
		ColumnLoginAttemptAt: nil,
	})
}

func (s *credentialStore) patchByID(ctx context.Context, id uuid.UUID, patch Patch) error {
	err := s.updateWhere(ctx, Precondition{Eq(ColumnID, id.String())}, patch)
	if IsKind(err, ErrPreconditionFailed.TextCode) {
		return newError(ErrNotFound, map[string]any{"id": id.String()})
	}
	return err
}

func applyCondition(q bun.QueryBuilder, c Condition) {
	switch c.Op {
	case "IS NULL", "IS NOT NULL":
		q.Where(fmt.Sprintf("?TableAlias.? %s", c.Op), bun.Ident(c.Column))
	default:
		q.Where(fmt.Sprintf("?TableAlias.? %s ?", c.Op), bun.Ident(c.Column), c.Value)
	}
}

func prepareUserDefaults(record *User, now time.Time) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleMember
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	record.Username = NormalizeIdentity(record.Username)
	record.Email = NormalizeIdentity(record.Email)

	if record.CreatedAt.IsZero() {
		record.CreatedAt = now.UTC()
	}
	record.UpdatedAt = now.UTC()
}
