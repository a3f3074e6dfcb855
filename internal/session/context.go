// Package session carries per-request tracker credentials through a
// context.Context. Jobs are authenticated with the credentials of the user
// who started them, never with a shared service account.
package session

import "context"

// Credentials is a tracker username/password pair.
type Credentials struct {
	Username string
	Password string
}

// Valid reports whether both fields are set.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const credentialsKey contextKey = "tracker_credentials"

// WithCredentials returns a context carrying the given credentials.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	return context.WithValue(ctx, credentialsKey, creds)
}

// FromContext extracts credentials from the context.
func FromContext(ctx context.Context) (Credentials, bool) {
	creds, ok := ctx.Value(credentialsKey).(Credentials)
	return creds, ok && creds.Valid()
}
