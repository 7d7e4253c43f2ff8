package store

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/embassyd/pkg/events"
	"github.com/cuemby/embassyd/pkg/types"
	"go.etcd.io/bbolt"
)

var (
	bucketPackageData = []byte("package-data")
	bucketBroken      = []byte("broken-packages")
)

// Store is the package database: every mutating method runs inside its
// own bbolt transaction, so a crash mid-write leaves the last committed
// entry intact rather than a torn one.
type Store struct {
	db     *bbolt.DB
	broker *events.Broker
}

// Open opens (creating if necessary) the bbolt file at path and
// ensures its buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening package database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPackageData); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketBroken); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketIPPool)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing package database buckets: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	return &Store{db: db, broker: broker}, nil
}

// Close stops the event broker and closes the underlying database.
func (s *Store) Close() error {
	s.broker.Stop()
	return s.db.Close()
}

// Put writes entry for pkg, replacing whatever was there, and notifies
// subscribers.
func (s *Store) Put(pkg types.PackageId, entry types.PackageDataEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling package entry: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPackageData).Put([]byte(pkg), data)
	})
	if err != nil {
		return fmt.Errorf("writing package entry: %w", err)
	}

	s.broker.Publish(&types.Event{Type: types.EventEntryPut, PackageID: pkg})
	return nil
}

// Peek returns a read-only snapshot of pkg's entry. The bool is false
// if no entry exists.
func (s *Store) Peek(pkg types.PackageId) (types.PackageDataEntry, bool, error) {
	var entry types.PackageDataEntry
	var found bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPackageData).Get([]byte(pkg))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return types.PackageDataEntry{}, false, fmt.Errorf("reading package entry: %w", err)
	}
	return entry, found, nil
}

// Exists reports whether pkg has an entry at all.
func (s *Store) Exists(pkg types.PackageId) (bool, error) {
	_, found, err := s.Peek(pkg)
	return found, err
}

// Mutate reads pkg's current entry (zero value if absent), passes it to
// fn for in-place modification, and writes the result back in the same
// transaction fn ran in. A non-nil error from fn aborts the write.
func (s *Store) Mutate(pkg types.PackageId, fn func(*types.PackageDataEntry) error) error {
	var entry types.PackageDataEntry

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPackageData)
		if data := b.Get([]byte(pkg)); data != nil {
			if err := json.Unmarshal(data, &entry); err != nil {
				return fmt.Errorf("unmarshaling existing entry: %w", err)
			}
		}

		if err := fn(&entry); err != nil {
			return err
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshaling mutated entry: %w", err)
		}
		return b.Put([]byte(pkg), data)
	})
	if err != nil {
		return err
	}

	s.broker.Publish(&types.Event{Type: types.EventEntryPut, PackageID: pkg})
	return nil
}

// Delete removes pkg's entry entirely (used once a Removing entry
// finishes uninstalling).
func (s *Store) Delete(pkg types.PackageId) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPackageData).Delete([]byte(pkg))
	})
	if err != nil {
		return fmt.Errorf("deleting package entry: %w", err)
	}
	s.broker.Publish(&types.Event{Type: types.EventEntryRemoved, PackageID: pkg})
	return nil
}

// List returns every currently-stored entry, keyed by package id.
func (s *Store) List() (map[types.PackageId]types.PackageDataEntry, error) {
	out := make(map[types.PackageId]types.PackageDataEntry)

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPackageData).ForEach(func(k, v []byte) error {
			var entry types.PackageDataEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("unmarshaling entry %s: %w", k, err)
			}
			out[types.PackageId(k)] = entry
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing package entries: %w", err)
	}
	return out, nil
}

// MarkBroken appends pkg to the broken-package set. Idempotent.
func (s *Store) MarkBroken(pkg types.PackageId) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBroken).Put([]byte(pkg), []byte{1})
	})
}

// Broken returns the current broken-package set.
func (s *Store) Broken() (types.BrokenPackages, error) {
	out := make(types.BrokenPackages)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBroken).ForEach(func(k, _ []byte) error {
			out[types.PackageId(k)] = struct{}{}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading broken package set: %w", err)
	}
	return out, nil
}

// Subscribe registers a new subscriber for package lifecycle events.
func (s *Store) Subscribe() events.Subscriber { return s.broker.Subscribe() }

// Unsubscribe removes a subscriber previously returned by Subscribe.
func (s *Store) Unsubscribe(sub events.Subscriber) { s.broker.Unsubscribe(sub) }

// Tx is a multi-key atomic transaction over the package database, for
// callers (the reconciler, the installer's commit phase) that need to
// read and write more than one package's entry atomically.
type Tx struct {
	tx *bbolt.Tx
}

// Begin starts a writable transaction. Callers must call Commit or
// Rollback.
func (s *Store) Begin() (*Tx, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// Put writes entry for pkg within the transaction.
func (t *Tx) Put(pkg types.PackageId, entry types.PackageDataEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling package entry: %w", err)
	}
	return t.tx.Bucket(bucketPackageData).Put([]byte(pkg), data)
}

// Peek reads pkg's entry within the transaction.
func (t *Tx) Peek(pkg types.PackageId) (types.PackageDataEntry, bool, error) {
	var entry types.PackageDataEntry
	data := t.tx.Bucket(bucketPackageData).Get([]byte(pkg))
	if data == nil {
		return entry, false, nil
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, false, fmt.Errorf("unmarshaling entry: %w", err)
	}
	return entry, true, nil
}

// Delete removes pkg's entry within the transaction.
func (t *Tx) Delete(pkg types.PackageId) error {
	return t.tx.Bucket(bucketPackageData).Delete([]byte(pkg))
}

// ForEachPackage visits every package entry within the transaction, in
// key order. fn receives a copy of each entry; changes to it are not
// written back, so callers that need to write back must call Put
// explicitly.
func (t *Tx) ForEachPackage(fn func(types.PackageId, types.PackageDataEntry) error) error {
	return t.tx.Bucket(bucketPackageData).ForEach(func(k, v []byte) error {
		var entry types.PackageDataEntry
		if err := json.Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("unmarshaling entry %s: %w", k, err)
		}
		return fn(types.PackageId(k), entry)
	})
}
