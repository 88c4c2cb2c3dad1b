// Package sagalog journals cross-chain saga records in a local pebble store so unfinished
// sagas survive a restart.
package sagalog

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"

	"matcher/apps/executor/internal/saga"
)

var sagaPrefix = []byte("saga:")

func sagaKey(id string) []byte { return append(append([]byte{}, sagaPrefix...), id...) }

// keyUpperBound returns the smallest key greater than every key with prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

type Log struct {
	db *pebble.DB
}

// Open opens (or creates) the journal at path.
func Open(path string) (*Log, error) {
	return OpenWithOptions(path, &pebble.Options{})
}

func OpenWithOptions(path string, opts *pebble.Options) (*Log, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open saga log: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error { return l.db.Close() }

// Save writes rec synchronously.
func (l *Log) Save(rec *saga.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal saga %s: %w", rec.ID, err)
	}
	if err := l.db.Set(sagaKey(rec.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save saga %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one record.
func (l *Log) Get(id string) (*saga.Record, bool, error) {
	data, closer, err := l.db.Get(sagaKey(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer closer.Close()

	var rec saga.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal saga %s: %w", id, err)
	}
	return &rec, true, nil
}

// Pending returns every record not yet completed or failed.
func (l *Log) Pending() ([]*saga.Record, error) {
	all, err := l.all()
	if err != nil {
		return nil, err
	}
	var out []*saga.Record
	for _, rec := range all {
		if !rec.State.Terminal() {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Recent returns up to limit records, most recently updated first.
func (l *Log) Recent(limit int) ([]*saga.Record, error) {
	all, err := l.all()
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (l *Log) all() ([]*saga.Record, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: sagaPrefix,
		UpperBound: keyUpperBound(sagaPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate saga log: %w", err)
	}
	defer iter.Close()

	var out []*saga.Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec saga.Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}
