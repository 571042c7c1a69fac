package models

import "time"

type User struct {
	ID           string    `gorm:"primaryKey;size:26" json:"id"` // ULID
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name         *string   `gorm:"type:varchar(255)" json:"name,omitempty"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }
