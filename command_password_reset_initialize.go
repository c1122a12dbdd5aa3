package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

type InitializePasswordResetMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, emailRules...),
	)
}

type InitializePasswordResetResponse struct {
	ExpiresAt         time.Time `json:"expiresAt"`
	NotificationError error     `json:"-"`
}

type InitializePasswordResetHandler struct {
	svc *accountServices
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := guardContext(ctx, "password reset initialization"); err != nil {
		return err
	}
	return finishCommand(h.execute(ctx, event), "failed to initialize password reset")
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailure(err)
	}

	ctx, cancel := withOperationTimeout(ctx, h.svc.timeout)
	defer cancel()

	email := NormalizeIdentity(event.Email)
	if err := checkLimit(ctx, h.svc.limiter, h.svc.logger, "reset:"+email); err != nil {
		return err
	}

	user, err := h.svc.store.FindOne(ctx, Precondition{Eq(ColumnEmail, email)})
	if err != nil {
		return err
	}

	// a new request invalidates the previous token
	token := h.svc.codec.Generate(h.svc.resetTTL)
	if err := h.svc.store.SetResetToken(ctx, user.ID, token.Hashed, token.Expiry); err != nil {
		return err
	}

	h.svc.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventPasswordResetRequested,
		UserID:    user.ID.String(),
	})

	resp := &InitializePasswordResetResponse{
		ExpiresAt:         token.Expiry,
		NotificationError: h.svc.notifier.SendPasswordReset(ctx, user, token.Unhashed, h.svc.resetTTL),
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
	return nil
}
