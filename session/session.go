// Package session keeps the signed-in principal on disk between CLI runs.
package session

import (
	"bytes"
	"encoding/gob"
	"errors"
	"time"

	"github.com/klipach/courier/auth"
	"go.etcd.io/bbolt"
)

// ErrNoSession is returned by Load when nothing was saved.
var ErrNoSession = errors.New("no saved session")

var (
	sessionBucket = []byte("session")
	principalKey  = []byte("principal")
)

type Cache struct {
	db *bbolt.DB
}

func Open(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sessionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Save(p auth.Principal) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionBucket).Put(principalKey, buf.Bytes())
	})
}

func (c *Cache) Load() (auth.Principal, error) {
	var p auth.Principal
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(sessionBucket).Get(principalKey)
		if data == nil {
			return ErrNoSession
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&p)
	})
	return p, err
}

func (c *Cache) Clear() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionBucket).Delete(principalKey)
	})
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Restore loads the saved principal into provider. A missing or expired
// session leaves the provider signed out and is not an error.
func Restore(c *Cache, provider auth.Provider, now time.Time) error {
	p, err := c.Load()
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt) {
		return c.Clear()
	}
	provider.Restore(p)
	return nil
}
