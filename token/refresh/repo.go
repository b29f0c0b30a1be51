package refresh

import (
	"time"
)

// StoredRefreshToken is what the backend remembers about an issued refresh
// token. Only Token ever leaves the server.
type StoredRefreshToken struct {
	Token  string
	UserID string
	Iat    time.Time
}

// Repo keeps refresh token records keyed by the opaque token string.
type Repo interface {
	Upsert(refreshToken *StoredRefreshToken) error
	Delete(token string) error
	Get(token string) (*StoredRefreshToken, error)
	// DeleteIssuedBefore removes records older than t and reports how many went.
	DeleteIssuedBefore(t time.Time) (int, error)
}
