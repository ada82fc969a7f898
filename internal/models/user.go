package models

// User mirrors the platform's identity record. The service never writes
// users; it only resolves connection requests and decorates responses.
type User struct {
	ID          int    `db:"id" json:"id"`
	Email       string `db:"email" json:"email"`
	DisplayName string `db:"display_name" json:"display_name"`
	AvatarURL   string `db:"avatar_url" json:"avatar_url"`
}
