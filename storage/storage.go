// Package storage provides the string-blob stores the engine persists its
// identity set into. A store holds exactly one document; an empty string
// means nothing has been stored yet.
package storage

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrUnavailable wraps failures to reach the backing medium.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrSealed is returned when sealed data cannot be opened.
	ErrSealed = errors.New("sealed data cannot be opened")
)

// Storage is a single-document store.
type Storage interface {
	SetData(ctx context.Context, data string) error
	GetData(ctx context.Context) (string, error)
	ClearData(ctx context.Context) error
}

// Memory keeps the document in process memory.
type Memory struct {
	mu   sync.RWMutex
	data string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) SetData(_ context.Context, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	return nil
}

func (m *Memory) GetData(context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data, nil
}

func (m *Memory) ClearData(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = ""
	return nil
}
