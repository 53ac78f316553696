package models

// User is the minimal identity record the engine needs; richer profile
// data lives outside this core.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt int64  `json:"created_at"`
}

// DisplayName returns the name used in notification content.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}
