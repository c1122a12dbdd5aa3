package auth

import (
	"context"
)

type VerifyEmailMessage struct {
	Token      string `json:"token"`
	OnResponse func(resp *VerifyEmailResponse)
}

func (e VerifyEmailMessage) Type() string { return "user.verify_email" }

type VerifyEmailResponse struct {
	User *User `json:"user"`
}

type VerifyEmailHandler struct {
	svc *accountServices
}

func (h *VerifyEmailHandler) Execute(ctx context.Context, event VerifyEmailMessage) error {
	if err := guardContext(ctx, "email verification"); err != nil {
		return err
	}
	return finishCommand(h.execute(ctx, event), "email verification failed")
}

func (h *VerifyEmailHandler) execute(ctx context.Context, event VerifyEmailMessage) error {
	ctx, cancel := withOperationTimeout(ctx, h.svc.timeout)
	defer cancel()

	user, err := h.svc.states.Verify(ctx, event.Token)
	if err != nil {
		return err
	}

	h.svc.activity.record(ctx, ActivityEvent{
		EventType: ActivityEventEmailVerified,
		UserID:    user.ID.String(),
		FromState: AccountStateUnverified,
		ToState:   AccountStateVerified,
	})

	if event.OnResponse != nil {
		event.OnResponse(&VerifyEmailResponse{User: user})
	}
	return nil
}
