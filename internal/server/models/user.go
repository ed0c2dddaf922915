package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
	IsVerified   bool
	Role         string
	AvatarKey    string
	CreatedAt    time.Time
}

// Profile is the cacheable public view of a user.
type Profile struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	IsActive   bool      `json:"is_active"`
	IsVerified bool      `json:"is_verified"`
	Role       string    `json:"role"`
	AvatarKey  string    `json:"avatar_key,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (u *User) Profile() *Profile {
	return &Profile{
		ID:         u.ID,
		Email:      u.Email,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		Role:       u.Role,
		AvatarKey:  u.AvatarKey,
		CreatedAt:  u.CreatedAt,
	}
}
