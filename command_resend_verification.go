package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ResendEmailVerificationMessage struct {
	UserID     uuid.UUID
	OnResponse func(resp *ResendEmailVerificationResponse)
}

func (e ResendEmailVerificationMessage) Type() string { return "user.resend_email_verification" }

type ResendEmailVerificationResponse struct {
	ExpiresAt         time.Time `json:"expiresAt"`
	NotificationError error     `json:"-"`
}

type ResendEmailVerificationHandler struct {
	svc *accountServices
}

func (h *ResendEmailVerificationHandler) Execute(ctx context.Context, event ResendEmailVerificationMessage) error {
	if err := guardContext(ctx, "email verification resend"); err != nil {
		return err
	}
	return finishCommand(h.execute(ctx, event), "email verification resend failed")
}

func (h *ResendEmailVerificationHandler) execute(ctx context.Context, event ResendEmailVerificationMessage) error {
	ctx, cancel := withOperationTimeout(ctx, h.svc.timeout)
	defer cancel()

	user, err := h.svc.store.FindByID(ctx, event.UserID)
	if err != nil {
		return err
	}

	if err := h.svc.states.EnsureCanResendVerification(user); err != nil {
		return err
	}

	if err := checkLimit(ctx, h.svc.limiter, h.svc.logger, "verify:"+user.ID.String()); err != nil {
		return err
	}

	// the new token replaces any outstanding one
	token := h.svc.codec.Generate(h.svc.verificationTTL)
	if err := h.svc.store.SetVerificationToken(ctx, user.ID, token.Hashed, token.Expiry); err != nil {
		return err
	}

	h.svc.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventVerificationIssued,
		UserID:    user.ID.String(),
	})

	resp := &ResendEmailVerificationResponse{
		ExpiresAt:         token.Expiry,
		NotificationError: h.svc.notifier.SendVerification(ctx, user, token.Unhashed, h.svc.verificationTTL),
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}
	return nil
}
