package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
)

type ChangePasswordMessage struct {
	UserID      uuid.UUID `json:"-"`
	OldPassword string    `json:"oldPassword"`
	NewPassword string    `json:"newPassword"`
}

func (m ChangePasswordMessage) Type() string { return "user.password_change" }

func (m ChangePasswordMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.OldPassword, validation.Required),
		validation.Field(&m.NewPassword, passwordRules...),
	)
}

type ChangePasswordHandler struct {
	svc *accountServices
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	if err := guardContext(ctx, "password change"); err != nil {
		return err
	}
	return finishCommand(h.execute(ctx, event), "failed to change password")
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailure(err)
	}

	ctx, cancel := withOperationTimeout(ctx, h.svc.timeout)
	defer cancel()

	user, err := h.svc.store.FindByID(ctx, event.UserID)
	if err != nil {
		return err
	}

	if err := h.svc.hasher.ComparePasswordAndHash(event.OldPassword, user.PasswordHash); err != nil {
		return newError(ErrInvalidCredentials, map[string]any{"field": "oldPassword"})
	}

	passwordHash, err := h.svc.hasher.HashPassword(event.NewPassword)
	if err != nil {
		return err
	}

	// also drops any pending reset token
	if err := h.svc.store.SetPassword(ctx, user.ID, passwordHash); err != nil {
		return err
	}

	h.svc.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		UserID:    user.ID.String(),
	})
	return nil
}
