package users

import "time"

// Account captures a registered user and the session secret their live
// connections authenticate with.
type Account struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	DisplayName  string    `gorm:"column:display_name;size:320;not null;default:''"`
	SessionToken string    `gorm:"column:session_token;size:1024;not null;default:''"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (Account) TableName() string {
	return "users"
}
