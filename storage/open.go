package storage

import (
	"fmt"
	"strings"

	"mintgate/session"
	"mintgate/storage/boltstore"
	"mintgate/storage/sqlstore"
)

// Store is a session store that owns a closable backend.
type Store interface {
	session.Store
	Close() error
}

// Open returns the session store for driver. dsn is a file path for leveldb and
// bolt, a connection string for sqlite and postgres, and ignored for memory.
func Open(driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		return NewSessionStore(NewMemDB()), nil
	case "leveldb", "level":
		return OpenLevelStore(dsn)
	case "bolt", "bbolt":
		return boltstore.Open(dsn, nil)
	case "sqlite", "sqlite3", "postgres", "postgresql":
		return sqlstore.Open(strings.ToLower(driver), dsn)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
