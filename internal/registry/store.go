// Package registry keeps build records and serves them over HTTP.
package registry

import (
	"encoding/json"
	"sync"
)

const (
	StatusPending  = "pending"
	StatusBuilding = "building"
	StatusBuilt    = "built"
	StatusFailed   = "failed"
)

// Record is the registry entry for one build.
type Record struct {
	Status       string          `json:"status"`
	Options      json.RawMessage `json:"options,omitempty"`
	Error        string          `json:"error,omitempty"`
	OutputCommit string          `json:"outputCommit,omitempty"`
}

// Store holds build records by identifier.
type Store interface {
	Get(id string) (Record, bool)
	Put(id string, record Record)
	List() map[string]Record
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (s *MemoryStore) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	return record, ok
}

func (s *MemoryStore) Put(id string, record Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[id] = record
}

// List returns a copy of every record.
func (s *MemoryStore) List() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make(map[string]Record, len(s.records))
	for id, record := range s.records {
		records[id] = record
	}
	return records
}
