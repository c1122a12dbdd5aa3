package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package
type Logger = glog.Logger

// LoggerProvider resolves named loggers
type LoggerProvider = glog.LoggerProvider

// Identity holds the attributes of an authenticated account
type Identity interface {
	ID() string
	Username() string
	Email() string
	Role() string
}

// PasswordAuthenticator hashes and compares passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// Session is the pair of bearer credentials handed to a client after login
// or refresh. The access token is never stored, the refresh token only as a hash.
type Session struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"refreshToken"`
	AccessTokenExpiresAt  time.Time `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time `json:"refreshTokenExpiresAt"`
}

// ResolveLogger returns the named logger from provider, falling back to
// logger and then to the default printer.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if named := provider.GetLogger(name); named != nil {
			return provider, named
		}
	}

	if logger == nil {
		logger = defLogger{}
	}

	return glog.ProviderFromLogger(logger), logger
}

type defLogger struct{}

var _ Logger = defLogger{}

func (d defLogger) Trace(msg string, args ...any) { d.print("TRC", msg, args...) }
func (d defLogger) Debug(msg string, args ...any) { d.print("DBG", msg, args...) }
func (d defLogger) Info(msg string, args ...any)  { d.print("INF", msg, args...) }
func (d defLogger) Warn(msg string, args ...any)  { d.print("WRN", msg, args...) }
func (d defLogger) Error(msg string, args ...any) { d.print("ERR", msg, args...) }
func (d defLogger) Fatal(msg string, args ...any) { d.print("FTL", msg, args...) }

func (d defLogger) WithContext(context.Context) Logger {
	return d
}

func (defLogger) print(level, msg string, args ...any) {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level)
	b.WriteString("] AUTH ")
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	fmt.Println(b.String())
}

type noopLogger struct{}

func (noopLogger) Trace(string, ...any)               {}
func (noopLogger) Debug(string, ...any)               {}
func (noopLogger) Info(string, ...any)                {}
func (noopLogger) Warn(string, ...any)                {}
func (noopLogger) Error(string, ...any)               {}
func (noopLogger) Fatal(string, ...any)               {}
func (n noopLogger) WithContext(context.Context) Logger { return n }

// NopLogger discards everything
func NopLogger() Logger {
	return noopLogger{}
}
