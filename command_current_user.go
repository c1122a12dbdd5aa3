package auth

import (
	"context"

	"github.com/google/uuid"
)

type CurrentUserMessage struct {
	UserID     uuid.UUID
	OnResponse func(resp *CurrentUserResponse)
}

func (m CurrentUserMessage) Type() string { return "user.current" }

type CurrentUserResponse struct {
	User   *User         `json:"user"`
	Status AccountStatus `json:"status"`
}

type CurrentUserHandler struct {
	svc *accountServices
}

func (h *CurrentUserHandler) Execute(ctx context.Context, event CurrentUserMessage) error {
	if err := guardContext(ctx, "current user lookup"); err != nil {
		return err
	}

	ctx, cancel := withOperationTimeout(ctx, h.svc.timeout)
	defer cancel()

	user, err := h.svc.store.FindByID(ctx, event.UserID)
	if err != nil {
		return finishCommand(err, "current user lookup failed")
	}

	if event.OnResponse != nil {
		event.OnResponse(&CurrentUserResponse{User: user, Status: h.svc.states.Status(user)})
	}
	return nil
}
