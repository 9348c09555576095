package users

import "time"

// User is the durable account record owned by the identity store. GoogleID and
// PasswordHash are both nullable: an account created via provider login has no
// password hash, a locally registered account has no provider link.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:36"`
	DisplayName  string    `gorm:"column:display_name;size:320"`
	Email        string    `gorm:"column:email;size:320;index"`
	GoogleID     *string   `gorm:"column:google_id;size:190;uniqueIndex"`
	PasswordHash *string   `gorm:"column:password_hash;size:96"`
	AvatarURL    string    `gorm:"column:avatar_url;size:512"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// PublicUser is the client-facing projection of a user record. Secret material
// never leaves the users package.
type PublicUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Public projects the record into its client-facing shape.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		AvatarURL:   u.AvatarURL,
	}
}
