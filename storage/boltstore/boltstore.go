// Package boltstore persists gateway sessions in a bbolt file.
package boltstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"mintgate/session"
)

var bucketSessions = []byte("sessions")

// Store keeps one JSON record per session in the "sessions" bucket.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the bolt file at path.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSessions)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying Bolt database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(ctx context.Context, gs session.GatewaySession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if gs.ID == "" {
		return errors.New("boltstore: session id required")
	}
	raw, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", gs.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(gs.ID), raw)
	})
}

func (s *Store) Load(ctx context.Context, id string) (session.GatewaySession, error) {
	var gs session.GatewaySession
	if err := ctx.Err(); err != nil {
		return gs, err
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketSessions).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%w: %s", session.ErrNotFound, id)
		}
		return decode(raw, &gs)
	})
	return gs, err
}

func (s *Store) List(ctx context.Context) ([]session.GatewaySession, error) {
	var out []session.GatewaySession
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var gs session.GatewaySession
			if err := decode(v, &gs); err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out = append(out, gs)
			return nil
		})
	})
	return out, err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(id))
	})
}

func decode(raw []byte, gs *session.GatewaySession) error {
	if err := json.Unmarshal(raw, gs); err != nil {
		return err
	}
	if gs.Transactions == nil {
		gs.Transactions = make(map[string]session.GatewayTransaction)
	}
	return nil
}
