package id

import "github.com/google/uuid"

// New returns a random UUIDv4 string used for users and request IDs.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s is a well-formed UUID. Inbound X-Request-ID
// headers that fail this check are replaced.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
