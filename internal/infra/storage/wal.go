package storage

import (
	"encoding/json"
	"os"
	"sync"
)

// EventStore is an append-only write-ahead log of every event the
// sequencer processes, recorded before state mutation so a crash can be
// replayed forward from the last durable point. A plain JSON-lines file:
// the WAL is a pure sequential append with no querying needs, unlike the
// relations in sqlite.go.
type EventStore struct {
	mu sync.Mutex
	f  *os.File
}

// NewEventStore opens (creating/appending to) the WAL file at path.
func NewEventStore(path string) (*EventStore, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &EventStore{f: f}, nil
}

// walRecord is the on-disk envelope for one event.
type walRecord struct {
	Seq  uint64          `json:"seq"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SaveEvent appends ev to the WAL. Per the agent's persistence policy,
// callers must treat a returned error as non-fatal: log it, bump a metric,
// and keep trading -- the WAL is a forensic aid, never a gate on the hot
// path.
func (s *EventStore) SaveEvent(seq uint64, eventType string, ev any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	rec := walRecord{Seq: seq, Type: eventType, Data: data}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = s.f.Write(line)
	return err
}

// Close flushes and closes the WAL file.
func (s *EventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
