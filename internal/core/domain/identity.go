package domain

import "strings"

// User is the authenticated principal handed to the session manager by the login flow.
type User struct {
	ID       string
	Username string
	Role     string
}

// Validate reports whether the principal carries the fields required to open a session.
func (u User) Validate() bool {
	return strings.TrimSpace(u.ID) != "" && strings.TrimSpace(u.Username) != ""
}
