package storage

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

// NewMemory returns a process-local Store. Tests and the "memory" driver use it.
func NewMemory() Store {
	return &memoryStore{docs: map[string][]byte{}}
}

func (m *memoryStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *memoryStore) Save(ctx context.Context, name string, doc []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[name] = append([]byte(nil), doc...)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Close() error { return nil }
