package cache

import (
	"errors"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

const databasesBucket = "databases"

var ErrNoEntry = errors.New("no cache entry")

// Entries is the set of cached databases in a transaction, keyed by database path.
type Entries struct {
	bucket *bolt.Bucket
}

// Databases opens the entries of tx, creating the bucket in writable transactions.
func Databases(tx *bolt.Tx) (*Entries, error) {
	name := []byte(databasesBucket)

	if tx.Writable() {
		bucket, err := tx.CreateBucketIfNotExists(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", databasesBucket, err)
		}

		return &Entries{bucket}, nil
	}

	bucket := tx.Bucket(name)
	if bucket == nil {
		// nothing has been written yet
		return nil, fmt.Errorf("%w: bucket %s does not exist", ErrNoEntry, databasesBucket)
	}

	return &Entries{bucket}, nil
}

func (e *Entries) Len() int {
	return e.bucket.Stats().KeyN
}

// Get returns the entry for the database at path, or ErrNoEntry.
func (e *Entries) Get(path string) (*Entry, error) {
	bytes := e.bucket.Get([]byte(path))
	if bytes == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEntry, path)
	}

	var entry Entry
	if err := msgpack.Unmarshal(bytes, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry for %s: %w", path, err)
	}

	return &entry, nil
}

func (e *Entries) Put(path string, entry *Entry) error {
	bytes, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry for %s: %w", path, err)
	}

	if err = e.bucket.Put([]byte(path), bytes); err != nil {
		return fmt.Errorf("failed to put cache entry for %s: %w", path, err)
	}

	return nil
}

// Clear removes every entry.
func (e *Entries) Clear() error {
	return e.remove(func(string) bool { return true })
}

// Prune removes the entries of databases which no longer exist on disk.
func (e *Entries) Prune() error {
	return e.remove(func(path string) bool {
		_, err := os.Stat(path)

		return errors.Is(err, os.ErrNotExist)
	})
}

func (e *Entries) remove(match func(path string) bool) error {
	c := e.bucket.Cursor()

	// a cursor delete moves onto the next key
	for k, _ := c.First(); k != nil; {
		if !match(string(k)) {
			k, _ = c.Next()

			continue
		}

		if err := c.Delete(); err != nil {
			return fmt.Errorf("failed to remove cache entry for %s: %w", string(k), err)
		}

		k, _ = c.Seek(k)
	}

	return nil
}
