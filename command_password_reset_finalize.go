package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
)

type FinalizePasswordResetMessage struct {
	Token      string `json:"token" doc:"Unhashed reset token from the emailed link"`
	Password   string `json:"newPassword" example:"some_secret_word" doc:"New password"`
	OnResponse func(resp *FinalizePasswordResetResponse)
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset.finalize" }

func (p FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Password, passwordRules...),
	)
}

type FinalizePasswordResetResponse struct {
	User *User `json:"user"`
}

type FinalizePasswordResetHandler struct {
	svc *accountServices
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if err := guardContext(ctx, "password reset finalization"); err != nil {
		return err
	}
	return finishCommand(h.execute(ctx, event), "failed to finalize password reset")
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	if event.Token == "" {
		return newError(ErrTokenInvalidOrExpired, nil)
	}
	if err := event.Validate(); err != nil {
		return validationFailure(err)
	}

	ctx, cancel := withOperationTimeout(ctx, h.svc.timeout)
	defer cancel()

	passwordHash, err := h.svc.hasher.HashPassword(event.Password)
	if err != nil {
		return err
	}

	user, err := h.svc.store.ConsumeResetToken(ctx, HashToken(event.Token), passwordHash, h.svc.now())
	if err != nil {
		return err
	}

	h.svc.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetSuccess,
		UserID:    user.ID.String(),
	})

	if event.OnResponse != nil {
		event.OnResponse(&FinalizePasswordResetResponse{User: user})
	}
	return nil
}
