package models

import "time"

// User is the customer placing orders.
type User struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Username     string    `gorm:"column:username;type:varchar(150);not null;uniqueIndex:ux_users_username"`
	Email        string    `gorm:"column:email;type:text;not null;default:''"`
	PasswordHash string    `gorm:"column:password_hash;not null"`
	Orders       []Order   `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
