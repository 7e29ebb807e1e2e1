package blob

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/anchor/internal/sentinel"
)

// Store is the content-addressed storage collaborator.
// Only Put and Get are used; blobs are never mutated or deleted.
type Store interface {
	Put(ctx context.Context, data []byte) (CID, error)
	Get(ctx context.Context, c CID) ([]byte, error)
}

// Memory is an in-process Store used by tests and dry runs.
//
// Thread-safety: Memory is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	blobs map[CID][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[CID][]byte)}
}

// Put stores a copy of data and returns its identifier.
func (m *Memory) Put(ctx context.Context, data []byte) (CID, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[c]; !ok {
		m.blobs[c] = append([]byte(nil), data...)
	}
	return c, nil
}

// Get returns the bytes stored under c.
func (m *Memory) Get(ctx context.Context, c CID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[c]
	if !ok {
		return nil, fmt.Errorf("get blob %s: %w", c, sentinel.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
