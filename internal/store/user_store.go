package store

import (
	"context"

	"github.com/dunamismax/pixelgate/internal/domain"
)

// UserStore persists registered users. Emails are stored normalised by the
// caller and are unique.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, bool, error)
}
