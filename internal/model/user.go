package model

import (
	"time"
)

// User mirrors the external identity provider's subject. Rows are upserted
// on first authenticated request; the credit balance is the only state this
// service owns.
type User struct {
	ID        string    `db:"id"` // External subject id
	Email     string    `db:"email"`
	Name      string    `db:"name"`
	IsAdmin   bool      `db:"is_admin"`
	Credits   int       `db:"credits"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
