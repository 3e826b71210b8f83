// Package profilestore keeps unit profiles across runs. Snapshots are keyed
// by the unit fingerprint, so a profile only ever returns to identical code.
package profilestore

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"basejit/pkg/bytecode"
)

var keyPrefix = []byte("profile/")

func makeKey(fp bytecode.Fingerprint) []byte {
	key := make([]byte, 0, len(keyPrefix)+len(fp))
	key = append(key, keyPrefix...)
	return append(key, fp[:]...)
}

// Store is a pebble database of profile snapshots.
type Store struct {
	db *pebble.DB
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open profile store %s", dir)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save writes the current profiles of units in one batch.
func (s *Store) Save(units ...*bytecode.Unit) error {
	b := s.db.NewBatch()
	defer b.Close()
	for _, u := range units {
		data, err := Take(u).encode()
		if err != nil {
			return errors.Wrapf(err, "save %s", u.Name)
		}
		if err := b.Set(makeKey(bytecode.FingerprintOf(u)), data, nil); err != nil {
			return errors.Wrapf(err, "save %s", u.Name)
		}
	}
	return b.Commit(pebble.Sync)
}

// Get returns the stored snapshot for fp, or nil when there is none.
func (s *Store) Get(fp bytecode.Fingerprint) (*Snapshot, error) {
	data, closer, err := s.db.Get(makeKey(fp))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", fp)
	}
	defer closer.Close()
	return decodeSnapshot(data)
}

// Load merges the stored profiles of u into it and reports whether there
// were any.
func (s *Store) Load(u *bytecode.Unit) (bool, error) {
	snap, err := s.Get(bytecode.FingerprintOf(u))
	if err != nil || snap == nil {
		return false, err
	}
	if err := snap.Apply(u); err != nil {
		return false, err
	}
	return true, nil
}

// Delete drops the snapshot for fp.
func (s *Store) Delete(fp bytecode.Fingerprint) error {
	return s.db.Delete(makeKey(fp), pebble.Sync)
}

// Entry names one stored snapshot.
type Entry struct {
	Fingerprint bytecode.Fingerprint
	Name        string
}

// List returns the stored snapshots in key order.
func (s *Store) List() ([]Entry, error) {
	upper := append([]byte(nil), keyPrefix...)
	upper[len(upper)-1]++
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: keyPrefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		var e Entry
		copy(e.Fingerprint[:], iter.Key()[len(keyPrefix):])
		snap, err := decodeSnapshot(iter.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "entry %s", e.Fingerprint)
		}
		e.Name = snap.Name
		entries = append(entries, e)
	}
	return entries, iter.Error()
}
