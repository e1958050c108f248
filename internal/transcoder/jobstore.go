// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const jobKeyPrefix = "job:"

// JobTable is the job persistence a Service runs on.
type JobTable interface {
	Put(job Job) error
	Get(id string) (Job, error)
	Update(id string, fn func(*Job) error) (Job, error)
	Scan(fn func(Job) error) error
	CountActive() (int, error)
}

var _ JobTable = (*JobStore)(nil)

// JobStore persists jobs in Badger under "job:<id>" as JSON.
type JobStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenJobStore opens the job table at dir. An empty dir keeps jobs in memory.
func OpenJobStore(dir string) (*JobStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("transcoder: open job store: %w", err)
	}
	return &JobStore{db: db, now: time.Now}, nil
}

func (s *JobStore) Close() error { return s.db.Close() }

func jobKey(id string) []byte { return []byte(jobKeyPrefix + id) }

// Put stores a new job.
func (s *JobStore) Put(job Job) error {
	buf, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(job.ID), buf)
	})
}

// Get returns ErrJobNotFound for unknown ids.
func (s *JobStore) Get(id string) (Job, error) {
	var out Job
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Job{}, ErrJobNotFound
	}
	return out, err
}

// Update applies fn to the stored job in one transaction.
func (s *JobStore) Update(id string, fn func(*Job) error) (Job, error) {
	var out Job
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		}); err != nil {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		out.UpdatedAt = s.now().UTC()
		buf, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return txn.Set(jobKey(id), buf)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Job{}, ErrJobNotFound
	}
	return out, err
}

// Scan calls fn for every stored job.
func (s *JobStore) Scan(fn func(Job) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var job Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			if err := fn(job); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountActive returns the number of SUBMITTED or PROGRESSING jobs.
func (s *JobStore) CountActive() (int, error) {
	n := 0
	err := s.Scan(func(j Job) error {
		if j.Status.Active() {
			n++
		}
		return nil
	})
	return n, err
}
