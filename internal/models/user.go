package models

import "time"

// UserModel is a campus member profile. ID is the subject id carried in credentials.
type UserModel struct {
	Base
	Username      string     `json:"username"        gorm:"type:varchar(64);uniqueIndex;not null"`
	Name          string     `json:"name"`
	Avatar        string     `json:"avatar"`
	Password      string     `json:"-"`
	LastLoginTime *time.Time `json:"lastLoginTime"`
	LastLoginIP   string     `json:"lastLoginIp"`
}

func (UserModel) TableName() string { return "users" }
