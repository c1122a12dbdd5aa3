package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/hashid/pkg/hashid"
)

type RegisterUserMessage struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"fullName"`
	UseHashid  bool   `json:"-"`
	OnResponse func(resp *RegisterUserResponse)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Username, usernameRules...),
		validation.Field(&e.Email, emailRules...),
		validation.Field(&e.Password, passwordRules...),
		validation.Field(&e.FullName, validation.Length(0, 200)),
	)
}

type RegisterUserResponse struct {
	User                  *User     `json:"user"`
	VerificationExpiresAt time.Time `json:"verificationExpiresAt"`
	// NotificationError is set when the account was created but the
	// verification email could not be delivered.
	NotificationError error `json:"-"`
}

type RegisterUserHandler struct {
	svc *accountServices
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	if err := guardContext(ctx, "user registration"); err != nil {
		return err
	}
	return finishCommand(h.execute(ctx, event), "user registration failed")
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailure(err)
	}

	ctx, cancel := withOperationTimeout(ctx, h.svc.timeout)
	defer cancel()

	exists, err := h.svc.store.ExistsByUsernameOrEmail(ctx, event.Username, event.Email)
	if err != nil {
		return err
	}
	if exists {
		return newError(ErrDuplicateIdentity, map[string]any{
			"username": NormalizeIdentity(event.Username),
			"email":    NormalizeIdentity(event.Email),
		})
	}

	hash, err := h.svc.hasher.HashPassword(event.Password)
	if err != nil {
		return err
	}

	token := h.svc.codec.Generate(h.svc.verificationTTL)

	user := &User{
		Username:                event.Username,
		Email:                   event.Email,
		FullName:                event.FullName,
		Role:                    RoleMember,
		PasswordHash:            hash,
		EmailVerificationToken:  token.Hashed,
		EmailVerificationExpiry: toUnixMicro(token.Expiry),
	}
	if event.UseHashid {
		if id, err := hashid.NewUUID(NormalizeIdentity(event.Email)); err == nil {
			user.ID = id
		}
	}

	user, err = h.svc.store.Create(ctx, user)
	if err != nil {
		return err
	}

	h.svc.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		UserID:    user.ID.String(),
		ToState:   AccountStateUnverified,
	})

	resp := &RegisterUserResponse{
		User:                  user,
		VerificationExpiresAt: token.Expiry,
		NotificationError:     h.svc.notifier.SendVerification(ctx, user, token.Unhashed, h.svc.verificationTTL),
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
	return nil
}
