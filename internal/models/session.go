package models

import "time"

// UserSession records an issued credential so logouts can be audited.
type UserSession struct {
	Base
	UserID    string     `json:"userId"    gorm:"type:varchar(64);index;not null"`
	TokenID   string     `json:"-"         gorm:"type:varchar(64);uniqueIndex;not null"`
	IP        string     `json:"ip"`
	UA        string     `json:"ua"        gorm:"type:text"`
	ExpiresAt time.Time  `json:"expiresAt" gorm:"index;not null"`
	RevokedAt *time.Time `json:"revokedAt" gorm:"index"`
}

func (UserSession) TableName() string { return "user_sessions" }
