package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pixperk/pagelock/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// BoltFileName is the database file created inside the data dir.
const BoltFileName = "pagelock.db"

var leaseBucket = []byte("leases")

// BoltStore keeps the lease table in a single bbolt file.
// keys are name + 0x00 + session so all sessions of one name are adjacent
// and a prefix seek lists them; values are JSON encoded leases
// bbolt holds its own file lock, so only one process opens the file
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, BoltFileName)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(leaseBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create lease bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func leaseKey(name, sessionID string) []byte {
	key := make([]byte, 0, len(name)+1+len(sessionID))
	key = append(key, name...)
	key = append(key, 0)
	key = append(key, sessionID...)
	return key
}

func namePrefix(name string) []byte {
	return append([]byte(name), 0)
}

func decodeLease(v []byte) (types.Lease, error) {
	var l types.Lease
	if err := json.Unmarshal(v, &l); err != nil {
		return types.Lease{}, fmt.Errorf("decode lease: %w", err)
	}
	return l, nil
}

func (s *BoltStore) CountActive(ctx context.Context, name, sessionID string, now time.Time) (int, error) {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(leaseBucket).Get(leaseKey(name, sessionID))
		if v == nil {
			return nil
		}
		l, err := decodeLease(v)
		if err != nil {
			return err
		}
		if l.IsActive(now) {
			count = 1
		}
		return nil
	})
	return count, err
}

func (s *BoltStore) QueryActive(ctx context.Context, name, excludeSessionID string, now time.Time) ([]types.Lease, error) {
	if err := types.ValidateKey(name, excludeSessionID); err != nil {
		return nil, err
	}

	var out []types.Lease
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := namePrefix(name)
		c := tx.Bucket(leaseBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			l, err := decodeLease(v)
			if err != nil {
				return err
			}
			if l.Name != name || l.SessionID == excludeSessionID || !l.IsActive(now) {
				continue
			}
			out = append(out, l)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Insert(ctx context.Context, lease types.Lease) error {
	if err := types.ValidateKey(lease.Name, lease.SessionID); err != nil {
		return err
	}

	data, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(leaseBucket).Put(leaseKey(lease.Name, lease.SessionID), data)
	})
}

func (s *BoltStore) UpdateExpiry(ctx context.Context, name, sessionID string, expiresAt time.Time) error {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(leaseBucket)
		key := leaseKey(name, sessionID)
		v := b.Get(key)
		if v == nil {
			return nil
		}
		l, err := decodeLease(v)
		if err != nil {
			return err
		}
		l.ExpiresAt = expiresAt
		data, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("encode lease: %w", err)
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(leaseBucket)

		//collect first, deleting while iterating skips keys
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			l, err := decodeLease(v)
			if err != nil {
				return err
			}
			if l.IsExpired(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *BoltStore) DeleteByName(ctx context.Context, name, sessionID string) error {
	if err := types.ValidateKey(name, sessionID); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(leaseBucket).Delete(leaseKey(name, sessionID))
	})
}

func (s *BoltStore) Path() string {
	return s.db.Path()
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
