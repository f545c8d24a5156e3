package models

import "time"

// Identity is the authenticated principal a session belongs to.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// User is a record of the reference credential store.
type User struct {
	ID           string    `bson:"_id,omitempty" json:"id"`
	Email        string    `bson:"email" json:"email"`
	PasswordHash string    `bson:"passwordHash" json:"-"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (u *User) Identity() Identity {
	return Identity{ID: u.ID, Email: u.Email}
}
