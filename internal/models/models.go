package models

import (
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           uint    `gorm:"primaryKey;autoIncrement"  json:"id"`
	Name         string  `gorm:"not null"                  json:"name"`
	Email        string  `gorm:"unique;not null"           json:"email"`
	PasswordHash string  `gorm:"not null"                  json:"-"`
	Role         string  `gorm:"not null;default:user"     json:"role"`
	IsVerified   bool    `gorm:"not null;default:false"    json:"is_verified"`
	// Single-use token; nil once the email is verified.
	VerificationToken *string `gorm:"uniqueIndex"          json:"-"`
	// The one live refresh token for this user. Rotation overwrites it.
	RefreshToken *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type AttendanceRecord struct {
	ID        uint      `gorm:"primaryKey"       json:"id"`
	UserID    uint      `gorm:"index;not null"   json:"user_id"`
	Date      time.Time `gorm:"not null"         json:"date"`
	Status    string    `gorm:"not null"         json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type FaceProfile struct {
	ID        uint      `gorm:"primaryKey"       json:"id"`
	UserID    uint      `gorm:"index;not null"   json:"user_id"`
	URI       string    `gorm:"not null"         json:"uri"`
	CreatedAt time.Time `json:"created_at"`
	User      User      `gorm:"foreignKey:UserID" json:"user"`
}
