package store

import (
	"github.com/chainexport/csvstore/table"
)

// Store appends rows to the pending chunk for the duration of one Transact
// callback. It must not be kept after the callback returns.
type Store struct {
	chunk  *Chunk
	closed bool
	rows   int
}

// Write appends records to t.
func (s *Store) Write(t *table.Table, records ...table.Record) error {
	return s.WriteTo(t.Name(), records...)
}

// WriteTo appends records to the table registered under name.
func (s *Store) WriteTo(name string, records ...table.Record) error {
	if s.closed {
		return ErrStoreClosed
	}
	b, err := s.chunk.Builder(name)
	if err != nil {
		return err
	}
	b.Append(records...)
	s.rows += len(records)
	return nil
}

func (s *Store) close() {
	s.closed = true
	s.chunk = nil
}
