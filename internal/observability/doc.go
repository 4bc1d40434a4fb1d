// Package observability builds the process logger and the helpers that keep
// log lines correlated and free of credentials.
//
// Emails are masked before they reach a log line. Passwords, hashes, signing
// keys and raw tokens are never passed to a logger at all.
package observability
