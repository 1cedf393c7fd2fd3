package socket

import (
	"github.com/google/uuid"
)

// generateID allocates a session identifier.
func generateID() string {
	return uuid.NewString()
}
