// Package sqlstore persists gateway sessions through gorm, on sqlite or postgres.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mintgate/session"
)

// sessionRow is one gateway session. Record holds the session JSON without its
// transactions, which live in gatewayTransactionRow.
type sessionRow struct {
	ID             string `gorm:"primaryKey;size:255"`
	Asset          string `gorm:"size:16;index"`
	SourceChain    string `gorm:"size:32"`
	DestChain      string `gorm:"size:32"`
	DestAddress    string `gorm:"size:128"`
	GatewayAddress string `gorm:"size:128;index"`
	State          string `gorm:"size:32;index"`
	ExpiryTime     time.Time
	Record         string `gorm:"type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (sessionRow) TableName() string { return "gateway_sessions" }

type transactionRow struct {
	SessionID    string `gorm:"primaryKey;size:255"`
	SourceTxHash string `gorm:"primaryKey;size:255"`
	State        string `gorm:"size:32;index"`
	DestTxHash   string `gorm:"size:128"`
	Record       string `gorm:"type:text"`
	UpdatedAt    time.Time
}

func (transactionRow) TableName() string { return "gateway_transactions" }

// AutoMigrate creates or updates the session tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&sessionRow{}, &transactionRow{})
}

// Store implements session.Store on a gorm database.
type Store struct {
	db *gorm.DB
}

// Open connects to driver ("sqlite" or "postgres") at dsn and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Save(ctx context.Context, gs session.GatewaySession) error {
	if gs.ID == "" {
		return errors.New("sqlstore: session id required")
	}
	row, txs, err := toRows(gs)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", gs.ID).Delete(&transactionRow{}).Error; err != nil {
			return err
		}
		if len(txs) == 0 {
			return nil
		}
		return tx.Create(&txs).Error
	})
}

func (s *Store) Load(ctx context.Context, id string) (session.GatewaySession, error) {
	db := s.db.WithContext(ctx)
	var row sessionRow
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return session.GatewaySession{}, fmt.Errorf("%w: %s", session.ErrNotFound, id)
		}
		return session.GatewaySession{}, err
	}
	var txs []transactionRow
	if err := db.Where("session_id = ?", id).Find(&txs).Error; err != nil {
		return session.GatewaySession{}, err
	}
	return fromRows(row, txs)
}

func (s *Store) List(ctx context.Context) ([]session.GatewaySession, error) {
	db := s.db.WithContext(ctx)
	var rows []sessionRow
	if err := db.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	var txs []transactionRow
	if err := db.Order("session_id, source_tx_hash").Find(&txs).Error; err != nil {
		return nil, err
	}
	bySession := make(map[string][]transactionRow)
	for _, tx := range txs {
		bySession[tx.SessionID] = append(bySession[tx.SessionID], tx)
	}
	out := make([]session.GatewaySession, 0, len(rows))
	for _, row := range rows {
		gs, err := fromRows(row, bySession[row.ID])
		if err != nil {
			return nil, err
		}
		out = append(out, gs)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&transactionRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&sessionRow{}).Error
	})
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRows(gs session.GatewaySession) (sessionRow, []transactionRow, error) {
	head := gs
	head.Transactions = nil
	record, err := json.Marshal(head)
	if err != nil {
		return sessionRow{}, nil, fmt.Errorf("encode session %s: %w", gs.ID, err)
	}
	row := sessionRow{
		ID:             gs.ID,
		Asset:          gs.Asset,
		SourceChain:    gs.SourceChain,
		DestChain:      gs.DestChain,
		DestAddress:    gs.DestAddress,
		GatewayAddress: gs.GatewayAddress,
		State:          string(gs.State),
		ExpiryTime:     gs.ExpiryTime,
		Record:         string(record),
		CreatedAt:      gs.CreatedAt,
		UpdatedAt:      gs.UpdatedAt,
	}
	txs := make([]transactionRow, 0, len(gs.Transactions))
	for hash, tx := range gs.Transactions {
		raw, err := json.Marshal(tx)
		if err != nil {
			return sessionRow{}, nil, fmt.Errorf("encode deposit %s: %w", hash, err)
		}
		txs = append(txs, transactionRow{
			SessionID:    gs.ID,
			SourceTxHash: hash,
			State:        string(tx.State),
			DestTxHash:   tx.DestTxHash,
			Record:       string(raw),
			UpdatedAt:    gs.UpdatedAt,
		})
	}
	return row, txs, nil
}

func fromRows(row sessionRow, txs []transactionRow) (session.GatewaySession, error) {
	var gs session.GatewaySession
	if err := json.Unmarshal([]byte(row.Record), &gs); err != nil {
		return gs, fmt.Errorf("decode session %s: %w", row.ID, err)
	}
	gs.Transactions = make(map[string]session.GatewayTransaction, len(txs))
	for _, r := range txs {
		var tx session.GatewayTransaction
		if err := json.Unmarshal([]byte(r.Record), &tx); err != nil {
			return gs, fmt.Errorf("decode deposit %s: %w", r.SourceTxHash, err)
		}
		gs.Transactions[r.SourceTxHash] = tx
	}
	return gs, nil
}
