// Package session persists in-flight batch state for crash recovery.
package session

import (
	"context"
	"errors"

	"github.com/raphaelgruber/bulkgen/internal/models"
)

// ErrNotFound is returned when no session exists for the given key.
var ErrNotFound = errors.New("session not found")

// Store is a keyed durable session store: one slot per key, superseded
// wholesale on every save. Implementations must tolerate concurrent use.
type Store interface {
	Save(ctx context.Context, key string, s *models.Session) error
	Load(ctx context.Context, key string) (*models.Session, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
