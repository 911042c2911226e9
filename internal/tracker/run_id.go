package tracker

import "github.com/google/uuid"

// NewRunID returns a random UUID identifying one run in metrics and the lock.
func NewRunID() string {
	return uuid.NewString()
}
