package auth

import (
	"fmt"
	"strings"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// LoggerProvider hands out named loggers so each component can be scoped.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// LoggerProviderFunc adapts a function into a LoggerProvider.
type LoggerProviderFunc func(name string) Logger

// GetLogger implements LoggerProvider.
func (f LoggerProviderFunc) GetLogger(name string) Logger {
	if f == nil {
		return nil
	}
	return f(name)
}

// ResolveLogger picks the logger for a component. A provider wins over the
// fallback logger, and when neither yields a logger the default printer is used.
func ResolveLogger(name string, provider LoggerProvider, fallback Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if logger := provider.GetLogger(name); logger != nil {
			return provider, logger
		}
	}

	if fallback != nil {
		return provider, fallback
	}

	return provider, defLogger{scope: name}
}

// Config holds the signing and lifetime options shared by every role kind.
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetRotationTracking() bool
	GetReuseDetection() bool
	GetDenialAuditing() bool
	GetAtomicAuditActions() []string
}

// PasswordAuthenticator hashes and compares secrets
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct {
	scope string
}

func (d defLogger) Error(format string, args ...any) {
	fmt.Print(d.line("ERR", format, args...))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Print(d.line("WRN", format, args...))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Print(d.line("INF", format, args...))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Print(d.line("DBG", format, args...))
}

// line renders printf style messages as is and appends key/value pairs
// for structured calls such as Error("msg", "error", err).
func (d defLogger) line(level, format string, args ...any) string {
	prefix := "[" + level + "] AUTH "
	if d.scope != "" {
		prefix += d.scope + " "
	}

	var msg string
	if strings.Contains(format, "%") {
		msg = fmt.Sprintf(format, args...)
	} else {
		var b strings.Builder
		b.WriteString(format)
		for i := 0; i < len(args); i += 2 {
			if i+1 < len(args) {
				fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
			} else {
				fmt.Fprintf(&b, " %v", args[i])
			}
		}
		msg = b.String()
	}

	return newline(prefix + msg)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
