package models

import "github.com/google/uuid"

// User is an account known to the auth collaborator. Ephemeral users are
// minted for guests that connect without a token.
type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	IsEphemeral bool `json:"is_ephemeral"`
}
