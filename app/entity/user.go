package entity

import (
	"database/sql"
	"time"
)

type User struct {
	ID            string
	Username      string
	Email         string
	FullName      string
	PasswordHash  string
	AvatarURL     string
	CoverImageURL sql.NullString
	RefreshToken  sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
