package auth

import (
	"time"

	"github.com/campuslink/core/internal/models"
)

type LoginDTO struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Profile is the public view of a campus member returned at login.
type Profile struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Name          string     `json:"name"`
	Avatar        string     `json:"avatar"`
	LastLoginTime *time.Time `json:"lastLoginTime,omitempty"`
}

// LoginResult carries everything the handler needs to answer a login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Profile   Profile
}

func toProfile(u *models.UserModel) Profile {
	return Profile{
		ID:            u.ID,
		Username:      u.Username,
		Name:          displayName(u.Name, u.Username),
		Avatar:        u.Avatar,
		LastLoginTime: u.LastLoginTime,
	}
}

func displayName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
