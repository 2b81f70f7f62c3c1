// Package log builds the node's slog loggers.
//
// Every logger is wrapped in a SecureHandler that masks the source
// account's password and verification answer, the session cookies
// (auth_token, ct0 and friends), the node key and token-like values such
// as JWTs or bearer headers. Masking applies at every level, so verbose
// output is as safe to share as the default.
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Info("cookies restored", "cookie", "auth_token=abc; ct0=def")
//	// cookie=***REDACTED***
//
// Content addresses are long alphanumeric strings but are never masked.
package log
