package auth

import (
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// EnvPrefix prefixes every configuration variable
const EnvPrefix = "CREDENTIALS_"

// MinSecretLength is the shortest accepted signing secret
const MinSecretLength = 32

// Default one-time token lifetimes
const (
	DefaultVerificationTTL  = 20 * time.Minute
	DefaultResetTTL         = 20 * time.Minute
	DefaultOperationTimeout = 10 * time.Second
)

// Config is the runtime configuration, loaded from CREDENTIALS_* variables.
type Config struct {
	AccessTokenSecret  string        `env:"ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret string        `env:"REFRESH_TOKEN_SECRET"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	Issuer             string        `env:"ISSUER" envDefault:"go-credentials"`
	Audience           []string      `env:"AUDIENCE" envSeparator:","`

	BcryptCost          int           `env:"BCRYPT_COST" envDefault:"0"`
	VerificationTTL     time.Duration `env:"VERIFICATION_TTL" envDefault:"20m"`
	ResetTTL            time.Duration `env:"RESET_TTL" envDefault:"20m"`
	OperationTimeout    time.Duration `env:"OPERATION_TIMEOUT" envDefault:"10s"`
	NotificationTimeout time.Duration `env:"NOTIFICATION_TIMEOUT" envDefault:"5s"`

	MaxLoginAttempts     int           `env:"MAX_LOGIN_ATTEMPTS" envDefault:"5"`
	LoginCoolDown        time.Duration `env:"LOGIN_COOLDOWN" envDefault:"24h"`
	RevokeOnRefreshReuse bool          `env:"REVOKE_ON_REFRESH_REUSE" envDefault:"false"`
	RequireVerifiedLogin bool          `env:"REQUIRE_VERIFIED_LOGIN" envDefault:"false"`

	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"file:credentials.db?cache=shared"`

	RedisAddr       string        `env:"REDIS_ADDR"`
	RateLimitBudget int           `env:"RATE_LIMIT_BUDGET" envDefault:"5"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	RateLimitPrefix string        `env:"RATE_LIMIT_PREFIX" envDefault:"credentials:rl"`

	SMTPAddr     string `env:"SMTP_ADDR"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM" envDefault:"no-reply@localhost"`

	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	AppName       string `env:"APP_NAME" envDefault:"Credentials"`
	SecureCookies bool   `env:"SECURE_COOKIES" envDefault:"true"`
}

// LoadConfig parses the environment and validates the result
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse configuration")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot sign tokens safely
func (c Config) Validate() error {
	fields := map[string]any{}

	if len(c.AccessTokenSecret) < MinSecretLength {
		fields["access_token_secret"] = "must be at least 32 characters"
	}
	if len(c.RefreshTokenSecret) < MinSecretLength {
		fields["refresh_token_secret"] = "must be at least 32 characters"
	}
	if c.AccessTokenSecret != "" && c.AccessTokenSecret == c.RefreshTokenSecret {
		fields["refresh_token_secret"] = "must differ from the access token secret"
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= c.AccessTokenTTL {
		fields["refresh_token_ttl"] = "must be longer than the access token ttl"
	}
	if c.VerificationTTL <= 0 {
		fields["verification_ttl"] = "must be positive"
	}
	if c.ResetTTL <= 0 {
		fields["reset_ttl"] = "must be positive"
	}
	if c.DatabaseDSN == "" {
		fields["database_dsn"] = "is required"
	}

	if len(fields) == 0 {
		return nil
	}
	return newError(ErrValidation, fields)
}
