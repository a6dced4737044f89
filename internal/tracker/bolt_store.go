package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const fingerprintBucket = "fingerprints"

// BoltStore persists fingerprints in a bbolt file keyed by absolute path
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the store at path
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open fingerprint store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(fingerprintBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Load reads every stored fingerprint
func (s *BoltStore) Load() (map[string]Fingerprint, error) {
	out := make(map[string]Fingerprint)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(fingerprintBucket))
		if bucket == nil {
			return bolt.ErrBucketNotFound
		}
		return bucket.ForEach(func(k, v []byte) error {
			var fp Fingerprint
			if err := json.Unmarshal(v, &fp); err != nil {
				return fmt.Errorf("corrupt fingerprint for %s: %w", k, err)
			}
			out[string(k)] = fp
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put stores fp under its path
func (s *BoltStore) Put(fp Fingerprint) error {
	data, err := json.Marshal(fp)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(fingerprintBucket)).Put([]byte(fp.Path), data)
	})
}

// Delete removes the fingerprint for path
func (s *BoltStore) Delete(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(fingerprintBucket)).Delete([]byte(path))
	})
}

// Close closes the underlying database
func (s *BoltStore) Close() error {
	return s.db.Close()
}
