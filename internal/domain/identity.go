package domain

// Identity is the authenticated user behind a connection or request.
type Identity struct {
	UserID   string
	Username string
}
