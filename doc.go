// Package auth implements account credentials: registration with email
// verification, password login with lockout, rotating refresh sessions and
// password reset, backed by a SQL CredentialStore and exposed over fiber.
//
// Accounts:
//   - Accounts is the entry point. Each flow is a command handler that
//     validates its message, applies a single conditional update through the
//     CredentialStore and reports what happened to an ActivitySink.
//   - One-time tokens are random hex strings. Only their SHA-256 digest is
//     stored, the raw value leaves the process in a notification link.
//
// Sessions:
//   - Access tokens are short lived HS256 JWTs and never stored.
//   - Refresh tokens are stored as a digest. Refreshing swaps the digest
//     conditionally so a rotated token presented again is detected as reuse.
//
// Notifications:
//   - Notifier renders pongo2 templates and hands them to a NotificationSink.
//     Delivery failures are reported to the caller but never undo the change
//     that triggered them.
//
// Claims decoration:
//   - ClaimsDecorator runs before access tokens are signed. Decorators may
//     add Metadata while protected claims (sub, iss, aud, exp, role) stay
//     immutable.
package auth
