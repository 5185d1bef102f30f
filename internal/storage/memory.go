package storage

import (
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Backend backed by a map of growable buffers.
// Safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Read(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true, nil
}

func (m *Memory) ReadFrom(key string, offset int64) (ReadResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[key]
	if !ok {
		return ReadResult{NewOffset: 0}, nil
	}
	size := int64(len(b))
	if offset >= size {
		return ReadResult{NewOffset: size}, nil
	}
	if offset < 0 {
		offset = 0
	}
	out := make([]byte, size-offset)
	copy(out, b[offset:])
	return ReadResult{Content: out, NewOffset: size}, nil
}

func (m *Memory) Write(key string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := make([]byte, len(content))
	copy(b, content)
	m.data[key] = b
	return nil
}

func (m *Memory) Append(key string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append(m.data[key], content...)
	return nil
}

func (m *Memory) Exists(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *Memory) List(prefix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
