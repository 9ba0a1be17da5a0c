package domain

import "time"

type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Identity is the authenticated subject attached to a request.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Email: u.Email}
}
