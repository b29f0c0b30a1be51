package offline

import "github.com/google/uuid"

// NewMessageID returns a client message id. Version 7 UUIDs are unique and
// sort lexically by creation time.
func NewMessageID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
