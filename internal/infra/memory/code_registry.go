package memory

import (
	"context"
	"sync"
)

// CodeRegistry reserves join codes in-process. Uniqueness only needs to
// hold among sessions that are not completed, so completed sessions release
// their codes for reuse.
type CodeRegistry struct {
	mu    sync.Mutex
	codes map[string]string
}

func NewCodeRegistry() *CodeRegistry {
	return &CodeRegistry{codes: make(map[string]string)}
}

func (r *CodeRegistry) Reserve(_ context.Context, code, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.codes[code]; taken {
		return false, nil
	}
	r.codes[code] = sessionID
	return true, nil
}

func (r *CodeRegistry) Release(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codes, code)
	return nil
}
