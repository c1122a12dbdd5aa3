package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
)

// SessionResponse is returned by login and refresh
type SessionResponse struct {
	Session *Session `json:"session"`
	User    *User    `json:"user"`
}

type LoginMessage struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	OnResponse func(resp *SessionResponse)
}

func (m LoginMessage) Type() string { return "user.login" }

func (m LoginMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Identifier, validation.Required),
		validation.Field(&m.Password, validation.Required),
	)
}

type LoginHandler struct {
	svc *accountServices
}

func (h *LoginHandler) Execute(ctx context.Context, event LoginMessage) error {
	if err := guardContext(ctx, "login"); err != nil {
		return err
	}
	return finishCommand(h.execute(ctx, event), "login failed")
}

func (h *LoginHandler) execute(ctx context.Context, event LoginMessage) error {
	if err := event.Validate(); err != nil {
		return validationFailure(err)
	}

	ctx, cancel := withOperationTimeout(ctx, h.svc.timeout)
	defer cancel()

	session, user, err := h.svc.auth.Login(ctx, event.Identifier, event.Password)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&SessionResponse{Session: session, User: user})
	}
	return nil
}

type LogoutMessage struct {
	UserID uuid.UUID
}

func (m LogoutMessage) Type() string { return "user.logout" }

type LogoutHandler struct {
	svc *accountServices
}

func (h *LogoutHandler) Execute(ctx context.Context, event LogoutMessage) error {
	if err := guardContext(ctx, "logout"); err != nil {
		return err
	}

	ctx, cancel := withOperationTimeout(ctx, h.svc.timeout)
	defer cancel()

	return finishCommand(h.svc.auth.Logout(ctx, event.UserID), "logout failed")
}

type RefreshAccessTokenMessage struct {
	RefreshToken string `json:"refreshToken"`
	OnResponse   func(resp *SessionResponse)
}

func (m RefreshAccessTokenMessage) Type() string { return "user.refresh_access_token" }

type RefreshAccessTokenHandler struct {
	svc *accountServices
}

func (h *RefreshAccessTokenHandler) Execute(ctx context.Context, event RefreshAccessTokenMessage) error {
	if err := guardContext(ctx, "access token refresh"); err != nil {
		return err
	}
	return finishCommand(h.execute(ctx, event), "access token refresh failed")
}

func (h *RefreshAccessTokenHandler) execute(ctx context.Context, event RefreshAccessTokenMessage) error {
	if event.RefreshToken == "" {
		return newError(ErrTokenInvalidOrExpired, map[string]any{"reason": "missing refresh token"})
	}

	ctx, cancel := withOperationTimeout(ctx, h.svc.timeout)
	defer cancel()

	session, user, err := h.svc.auth.Refresh(ctx, event.RefreshToken)
	if err != nil {
		return err
	}

	if event.OnResponse != nil {
		event.OnResponse(&SessionResponse{Session: session, User: user})
	}
	return nil
}
