package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// ControllerRoutes holds the mount points of the account API
type ControllerRoutes struct {
	Users string
	Auth  string
}

// Controller exposes the account flows over HTTP
type Controller struct {
	accounts      *Accounts
	logger        Logger
	secureCookies bool
	Routes        ControllerRoutes
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithControllerLogger sets the logger used for request failures
func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSecureCookies toggles the Secure flag on session cookies
func WithSecureCookies(secure bool) ControllerOption {
	return func(c *Controller) { c.secureCookies = secure }
}

// WithControllerRoutes overrides the mount points
func WithControllerRoutes(routes ControllerRoutes) ControllerOption {
	return func(c *Controller) {
		if routes.Users != "" {
			c.Routes.Users = routes.Users
		}
		c.Routes.Auth = routes.Auth
	}
}

// NewController returns a Controller serving accounts
func NewController(accounts *Accounts, opts ...ControllerOption) *Controller {
	_, logger := ResolveLogger("auth.http", nil, nil)
	c := &Controller{
		accounts:      accounts,
		logger:        logger,
		secureCookies: true,
		Routes: ControllerRoutes{
			Users: "/api/v1/users",
			Auth:  "/api/v1/auth",
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Register mounts every route under Routes.Users and its Routes.Auth alias
func (a *Controller) Register(app fiber.Router) {
	for _, prefix := range []string{a.Routes.Users, a.Routes.Auth} {
		if prefix == "" {
			continue
		}
		a.mount(app.Group(prefix))
	}
}

func (a *Controller) mount(r fiber.Router) {
	protected := a.ProtectedRoute()

	r.Get("/healthcheck", a.Healthcheck)
	r.Post("/register", a.RegisterUser)
	r.Post("/login", a.Login)
	r.Post("/logout", protected, a.Logout)
	r.Get("/current-user", protected, a.CurrentUser)
	r.Post("/current-user", protected, a.CurrentUser)
	r.Get("/verify-email/:token", a.VerifyEmail)
	r.Post("/resend-email-verification", protected, a.ResendEmailVerification)
	r.Post("/refresh-access-token", a.RefreshAccessToken)
	r.Post("/change-password", protected, a.ChangePassword)
	r.Post("/forgot-password", a.ForgotPassword)
	r.Post("/reset-password/:token", a.ResetPassword)
}

type registerPayload struct {
	Username string `json:"username" form:"username"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	FullName string `json:"fullName" form:"fullName"`
}

type loginPayload struct {
	Identifier string `json:"identifier" form:"identifier"`
	Username   string `json:"username" form:"username"`
	Email      string `json:"email" form:"email"`
	Password   string `json:"password" form:"password"`
}

func (p loginPayload) identifier() string {
	switch {
	case p.Identifier != "":
		return p.Identifier
	case p.Email != "":
		return p.Email
	}
	return p.Username
}

type refreshPayload struct {
	RefreshToken string `json:"refreshToken" form:"refreshToken"`
}

type changePasswordPayload struct {
	OldPassword string `json:"oldPassword" form:"oldPassword"`
	NewPassword string `json:"newPassword" form:"newPassword"`
}

type forgotPasswordPayload struct {
	Email string `json:"email" form:"email"`
}

type resetPasswordPayload struct {
	NewPassword string `json:"newPassword" form:"newPassword"`
}

type sessionData struct {
	User         *User    `json:"user"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	Session      *Session `json:"session"`
}

func (a *Controller) bind(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return wrapError(ErrValidation, err, map[string]any{"body": "could not be parsed"})
	}
	return nil
}

// currentAccountID reads the subject of the validated access token
func (a *Controller) currentAccountID(c *fiber.Ctx) (uuid.UUID, error) {
	claims, ok := GetFiberClaims(c, LocalsClaimsKey)
	if !ok {
		return uuid.Nil, newError(ErrTokenInvalidOrExpired, nil)
	}
	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return uuid.Nil, wrapError(ErrTokenInvalidOrExpired, err, nil)
	}
	return id, nil
}

func (a *Controller) Healthcheck(c *fiber.Ctx) error {
	return respond(c, http.StatusOK, fiber.Map{"status": "ok"}, "healthy")
}

func (a *Controller) RegisterUser(c *fiber.Ctx) error {
	payload := new(registerPayload)
	if err := a.bind(c, payload); err != nil {
		return a.fail(c, err, false)
	}

	resp, err := a.accounts.Register(c.UserContext(), RegisterUserMessage{
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
		FullName: payload.FullName,
	})
	if err != nil {
		return a.fail(c, err, false)
	}

	message := "Users registered successfully and verification email has been sent on your email."
	if resp.NotificationError != nil {
		message = "User registered but the verification email could not be sent, request a new one."
	}
	return respond(c, http.StatusCreated, fiber.Map{"user": resp.User.Sanitized()}, message)
}

func (a *Controller) Login(c *fiber.Ctx) error {
	payload := new(loginPayload)
	if err := a.bind(c, payload); err != nil {
		return a.fail(c, err, false)
	}

	resp, err := a.accounts.Login(c.UserContext(), payload.identifier(), payload.Password)
	if err != nil {
		return a.fail(c, err, false)
	}

	a.setSessionCookies(c, resp.Session)
	return respond(c, http.StatusOK, sessionData{
		User:         resp.User.Sanitized(),
		AccessToken:  resp.Session.AccessToken,
		RefreshToken: resp.Session.RefreshToken,
		Session:      resp.Session,
	}, "User logged in successfully")
}

func (a *Controller) Logout(c *fiber.Ctx) error {
	id, err := a.currentAccountID(c)
	if err != nil {
		return a.fail(c, err, false)
	}
	if err := a.accounts.Logout(c.UserContext(), id); err != nil {
		return a.fail(c, err, false)
	}
	a.clearSessionCookies(c)
	return respond(c, http.StatusOK, fiber.Map{}, "User logged out")
}

func (a *Controller) CurrentUser(c *fiber.Ctx) error {
	id, err := a.currentAccountID(c)
	if err != nil {
		return a.fail(c, err, false)
	}
	resp, err := a.accounts.CurrentUser(c.UserContext(), id)
	if err != nil {
		return a.fail(c, err, false)
	}
	return respond(c, http.StatusOK, fiber.Map{
		"user":   resp.User.Sanitized(),
		"status": resp.Status,
	}, "Current user fetched successfully")
}

func (a *Controller) VerifyEmail(c *fiber.Ctx) error {
	user, err := a.accounts.VerifyEmail(c.UserContext(), c.Params("token"))
	if err != nil {
		return a.fail(c, err, true)
	}
	return respond(c, http.StatusOK, fiber.Map{"isEmailVerified": user.EmailVerified}, "Email is verified")
}

func (a *Controller) ResendEmailVerification(c *fiber.Ctx) error {
	id, err := a.currentAccountID(c)
	if err != nil {
		return a.fail(c, err, false)
	}
	resp, err := a.accounts.ResendEmailVerification(c.UserContext(), id)
	if err != nil {
		return a.fail(c, err, false)
	}
	if resp.NotificationError != nil {
		return a.fail(c, resp.NotificationError, false)
	}
	return respond(c, http.StatusOK, fiber.Map{}, "Mail has been sent to your mail ID")
}

func (a *Controller) RefreshAccessToken(c *fiber.Ctx) error {
	payload := new(refreshPayload)
	if err := a.bind(c, payload); err != nil {
		return a.fail(c, err, false)
	}

	token := c.Cookies(RefreshTokenCookie)
	if token == "" {
		token = payload.RefreshToken
	}

	resp, err := a.accounts.Refresh(c.UserContext(), token)
	if err != nil {
		a.clearSessionCookies(c)
		return a.fail(c, err, false)
	}

	a.setSessionCookies(c, resp.Session)
	return respond(c, http.StatusOK, sessionData{
		User:         resp.User.Sanitized(),
		AccessToken:  resp.Session.AccessToken,
		RefreshToken: resp.Session.RefreshToken,
		Session:      resp.Session,
	}, "Access token refreshed")
}

func (a *Controller) ChangePassword(c *fiber.Ctx) error {
	id, err := a.currentAccountID(c)
	if err != nil {
		return a.fail(c, err, false)
	}
	payload := new(changePasswordPayload)
	if err := a.bind(c, payload); err != nil {
		return a.fail(c, err, false)
	}
	if err := a.accounts.ChangeCurrentPassword(c.UserContext(), id, payload.OldPassword, payload.NewPassword); err != nil {
		return a.fail(c, err, false)
	}
	return respond(c, http.StatusOK, fiber.Map{}, "Password changed successfully")
}

func (a *Controller) ForgotPassword(c *fiber.Ctx) error {
	payload := new(forgotPasswordPayload)
	if err := a.bind(c, payload); err != nil {
		return a.fail(c, err, false)
	}
	resp, err := a.accounts.ForgotPassword(c.UserContext(), payload.Email)
	if err != nil {
		return a.fail(c, err, false)
	}
	if resp.NotificationError != nil {
		return a.fail(c, resp.NotificationError, false)
	}
	return respond(c, http.StatusOK, fiber.Map{}, "Password reset mail has been sent on your mail id")
}

func (a *Controller) ResetPassword(c *fiber.Ctx) error {
	payload := new(resetPasswordPayload)
	if err := a.bind(c, payload); err != nil {
		return a.fail(c, err, false)
	}
	if _, err := a.accounts.ResetForgottenPassword(c.UserContext(), c.Params("token"), payload.NewPassword); err != nil {
		return a.fail(c, err, true)
	}
	return respond(c, http.StatusOK, fiber.Map{}, "Password reset successfully")
}
