package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps checkpoints for the lifetime of the process. Rehashing keeps
// pointers while restarts start from the current heads.
type MemoryStore struct {
	mutex    sync.Mutex
	pointers map[string]map[string]string
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pointers: map[string]map[string]string{}}
}

// Load returns the stored pointers of a repository keyed by branch.
func (store *MemoryStore) Load(_ context.Context, repositoryName string) (map[string]string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	loaded := make(map[string]string, len(store.pointers[repositoryName]))
	for branch, commitID := range store.pointers[repositoryName] {
		loaded[branch] = commitID
	}
	return loaded, nil
}

// Save records the pointer of one branch.
func (store *MemoryStore) Save(_ context.Context, repositoryName string, branch string, commitID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.pointers[repositoryName] == nil {
		store.pointers[repositoryName] = map[string]string{}
	}
	store.pointers[repositoryName][branch] = commitID
	return nil
}

// Delete forgets every pointer of a repository.
func (store *MemoryStore) Delete(_ context.Context, repositoryName string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.pointers, repositoryName)
	return nil
}

// Close releases nothing.
func (store *MemoryStore) Close() error {
	return nil
}
