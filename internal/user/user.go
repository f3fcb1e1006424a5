// Package user persists user profiles keyed by the identity provider
// subject. Profiles are provisioned lazily: the first authenticated request
// creates the row, later requests refresh email/username if they changed.
package user

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates no profile exists for the subject.
var ErrNotFound = errors.New("user not found")

// User is a stored profile.
type User struct {
	ID        uuid.UUID `json:"id"`
	Subject   string    `json:"subject"` // identity provider sub claim
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
