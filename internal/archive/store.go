// Package archive replicates local artifacts (voice recordings, the interaction
// log, overflow replies) to a remote object store addressed by name inside one
// fixed container.
package archive

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Find when no object has the given name.
var ErrNotFound = errors.New("remote object not found")

// Store is a remote object store scoped to a single container.
type Store interface {
	// Find returns the id of an object named exactly name, or ErrNotFound.
	Find(ctx context.Context, name string) (string, error)
	// Create uploads localPath as a new object called name.
	Create(ctx context.Context, localPath, name string) (string, error)
	// Update replaces the content of object id with localPath.
	Update(ctx context.Context, id, localPath string) (string, error)
}
