package checkpoint

import (
	"context"
	"io"
	"strings"
)

// Store persists branch pointers per repository.
type Store interface {
	Load(executionContext context.Context, repositoryName string) (map[string]string, error)
	Save(executionContext context.Context, repositoryName string, branch string, commitID string) error
	Delete(executionContext context.Context, repositoryName string) error
	io.Closer
}

// Open returns a SQLite store for a non-empty path and a memory store otherwise.
func Open(executionContext context.Context, databasePath string) (Store, error) {
	if len(strings.TrimSpace(databasePath)) == 0 {
		return NewMemoryStore(), nil
	}
	store, openError := OpenSQLiteStore(executionContext, databasePath)
	if openError != nil {
		return nil, openError
	}
	return store, nil
}
