package params

import (
	"context"
	"sync"
)

// Record is one stored parameter with its provenance.
type Record struct {
	Key    string
	Value  string
	Writer string
	Epoch  int // logical deployment epoch of the write
	Secret bool
}

// Memory is an in-process Bridge used by tests and dry runs. It keeps the
// same semantics as the external store: overwrite on re-put, no deletes.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record
	epoch   int
}

// NewMemory returns an empty in-memory bridge.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

// AdvanceEpoch marks the start of a new logical deployment.
func (m *Memory) AdvanceEpoch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
}

func (m *Memory) put(key, value, writer string, secret bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = &Record{Key: key, Value: value, Writer: writer, Epoch: m.epoch, Secret: secret}
}

func (m *Memory) Put(_ context.Context, key, value, writer string) error {
	m.put(key, value, writer, false)
	return nil
}

func (m *Memory) PutSecret(_ context.Context, key, value, writer string) error {
	m.put(key, value, writer, true)
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok || rec.Secret {
		return "", &NotFoundError{Key: key}
	}
	return rec.Value, nil
}

func (m *Memory) GetSecret(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return "", &NotFoundError{Key: key}
	}
	return rec.Value, nil
}

// Lookup returns the full record for a key, for provenance assertions.
func (m *Memory) Lookup(key string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	return rec, ok
}
