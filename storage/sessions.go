package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mintgate/session"
)

var sessionPrefix = []byte("session/")

// SessionStore keeps JSON encoded sessions in a key-value Database under the
// "session/" prefix.
type SessionStore struct {
	db Database
}

// NewSessionStore wraps db.
func NewSessionStore(db Database) *SessionStore {
	return &SessionStore{db: db}
}

// OpenLevelStore opens a LevelDB backed session store at path.
func OpenLevelStore(path string) (*SessionStore, error) {
	db, err := NewLevelDB(path)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return NewSessionStore(db), nil
}

func sessionKey(id string) []byte {
	return append(append([]byte(nil), sessionPrefix...), id...)
}

func (s *SessionStore) Save(ctx context.Context, gs session.GatewaySession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if gs.ID == "" {
		return errors.New("storage: session id required")
	}
	raw, err := json.Marshal(gs)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", gs.ID, err)
	}
	return s.db.Put(sessionKey(gs.ID), raw)
}

func (s *SessionStore) Load(ctx context.Context, id string) (session.GatewaySession, error) {
	if err := ctx.Err(); err != nil {
		return session.GatewaySession{}, err
	}
	raw, err := s.db.Get(sessionKey(id))
	if errors.Is(err, ErrKeyNotFound) {
		return session.GatewaySession{}, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if err != nil {
		return session.GatewaySession{}, err
	}
	return decodeSession(raw)
}

func (s *SessionStore) List(ctx context.Context) ([]session.GatewaySession, error) {
	var out []session.GatewaySession
	err := s.db.Scan(sessionPrefix, func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		gs, err := decodeSession(value)
		if err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, gs)
		return nil
	})
	return out, err
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Delete(sessionKey(id))
}

// Close releases the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

func decodeSession(raw []byte) (session.GatewaySession, error) {
	var gs session.GatewaySession
	if err := json.Unmarshal(raw, &gs); err != nil {
		return gs, err
	}
	if gs.Transactions == nil {
		gs.Transactions = make(map[string]session.GatewayTransaction)
	}
	return gs, nil
}
