package domain

// User is a registered account. The password hash never leaves the credential store.
type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

// Identity is the caller a verified token speaks for.
type Identity struct {
	UserID   int    `json:"userId"`
	Username string `json:"username"`
}

// Identity returns the token-facing view of u.
func (u User) Identity() Identity {
	return Identity{UserID: u.ID, Username: u.Username}
}
