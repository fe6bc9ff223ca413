package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"github.com/numtide/cctree/compdb"
	bolt "go.etcd.io/bbolt"
)

// Entry is the decoded content of a database along with the signature of the file it was decoded from.
type Entry struct {
	Signature []byte          `msgpack:"signature"`
	Records   []compdb.Record `msgpack:"records"`
}

// Path returns a unique local cache file path for the given root string, using its SHA-256 hash.
func Path(root string) (string, error) {
	digest := sha256.Sum256([]byte(root))

	name := hex.EncodeToString(digest[:])

	path, err := xdg.CacheFile(fmt.Sprintf("cctree/db-cache/%v.db", name))
	if err != nil {
		return "", fmt.Errorf("could not resolve local path for the cache: %w", err)
	}

	return path, nil
}

// Open initialises and opens a Bolt database for the specified root path.
// If clean is true, any existing entries are removed, otherwise only those of databases which have disappeared.
func Open(root string, clean bool) (*bolt.DB, error) {
	// determine the db location
	path, err := Path(root)
	if err != nil {
		return nil, err
	}

	// open db
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		entries, err := Databases(tx)
		if err != nil {
			return err
		}

		if clean {
			return entries.Clear()
		}

		return entries.Prune()
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to prepare cache db: %w", err)
	}

	return db, nil
}

func Remove(root string) error {
	// determine the db location
	path, err := Path(root)
	if err != nil {
		return err
	}

	// Remove any db which might already exist.
	if err = os.Remove(path); !(err == nil || os.IsNotExist(err)) {
		return fmt.Errorf("failed to remove cache db at %s: %w", path, err)
	}

	return nil
}

// CachedLoader decodes a database through a delegate Loader, skipping the decode when the file's signature matches
// the one recorded the last time it was decoded.
type CachedLoader struct {
	db  *bolt.DB
	log *log.Logger

	// delegate performs the actual reading and decoding on a cache miss.
	delegate compdb.Loader
}

func (c *CachedLoader) Load(path string) ([]compdb.Record, error) {
	signature, err := compdb.Stat(path)
	if err != nil {
		return nil, err
	}

	var (
		hit     bool
		records []compdb.Record
	)

	err = c.db.View(func(tx *bolt.Tx) error {
		entries, err := Databases(tx)
		if err != nil {
			return err
		}

		entry, err := entries.Get(path)
		if err != nil {
			return err
		}

		if bytes.Equal(entry.Signature, signature) {
			hit = true
			records = entry.Records
		}

		return nil
	})
	if errors.Is(err, ErrNoEntry) {
		c.log.Debugf("cache miss for %s", path)
	} else if err != nil {
		// a broken entry only costs us a decode
		c.log.Warnf("failed to read cache entry for %s: %v", path, err)
	}

	if hit {
		c.log.Debugf("cache hit for %s: %d records", path, len(records))

		return records, nil
	}

	records, err = c.delegate.Load(path)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	err = c.db.Update(func(tx *bolt.Tx) error {
		entries, err := Databases(tx)
		if err != nil {
			return err
		}

		return entries.Put(path, &Entry{Signature: signature, Records: records})
	})
	if err != nil {
		c.log.Warnf("failed to update cache entry for %s: %v", path, err)
	}

	return records, nil
}

// NewCachedLoader creates a Loader backed by a bolt DB, delegating to delegate on a cache miss.
func NewCachedLoader(db *bolt.DB, delegate compdb.Loader) *CachedLoader {
	return &CachedLoader{
		db:       db,
		log:      log.WithPrefix("compdb | cache"),
		delegate: delegate,
	}
}
