package domain

import "strings"

// Blog platform roles. Permission lookup lives outside this service; the
// role name travels with the session so the HTTP layer can gate admin routes.
const (
	RoleAdmin  = "ADMIN"
	RoleEditor = "EDITOR"
	RoleAuthor = "AUTHOR"
	RoleReader = "READER"
)

// NormalizeRole canonicalises a role name, defaulting to READER.
func NormalizeRole(role string) string {
	canonical := strings.ToUpper(strings.TrimSpace(role))
	canonical = strings.TrimPrefix(canonical, "ROLE_")
	if canonical == "" {
		return RoleReader
	}
	return canonical
}

// HasAnyRole reports whether role matches one of the required roles.
func HasAnyRole(role string, required ...string) bool {
	canonical := NormalizeRole(role)
	for _, candidate := range required {
		if NormalizeRole(candidate) == canonical {
			return true
		}
	}
	return false
}
