// Package storage is the durable side of the engine: one SQLite database
// holding wallets, resting orders, the dedup records and the sequence
// counter, written one atomic bundle at a time.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"matching_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store persists commit bundles and serves recovery reads.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path, creating directories and
// tables as needed.
func Open(path string) (*Store, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Pure Go SQLite
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&domain.WalletRow{},
		&domain.OrderRow{},
		&domain.ProcessedMessageRow{},
		&domain.SequenceRow{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// errAlreadyPersisted aborts the commit transaction when the bundle's
// sequence number was already written. Translated to success by Commit.
var errAlreadyPersisted = errors.New("sequence already persisted")

// Commit writes one bundle atomically: wallet balances, order saves and
// removals, the processed-message record and the sequence number all land
// in a single transaction or not at all. Replaying a bundle whose
// sequence is already persisted is a successful no-op, which makes
// caller-side retries safe.
func (s *Store) Commit(b *domain.PersistenceBundle) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var seqRow domain.SequenceRow
		err := tx.First(&seqRow, "id = ?", 1).Error
		switch {
		case err == nil:
			if seqRow.Value >= b.Sequence {
				return errAlreadyPersisted
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// first commit ever
		default:
			return err
		}

		if len(b.Wallets) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
				Create(&b.Wallets).Error; err != nil {
				return err
			}
		}
		if len(b.OrdersToSave) > 0 {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).
				Create(&b.OrdersToSave).Error; err != nil {
				return err
			}
		}
		if len(b.OrdersToRemove) > 0 {
			if err := tx.Where("id IN ?", b.OrdersToRemove).
				Delete(&domain.OrderRow{}).Error; err != nil {
				return err
			}
		}
		if b.Processed != nil {
			if err := tx.Create(b.Processed).Error; err != nil {
				return err
			}
		}

		seqRow.ID = 1
		seqRow.Value = b.Sequence
		seqRow.UpdatedAt = time.Now()
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&seqRow).Error
	})

	if errors.Is(err, errAlreadyPersisted) {
		return nil
	}
	return err
}

// LastSequence returns the last persisted sequence number, zero when the
// store is empty.
func (s *Store) LastSequence() (uint64, error) {
	var seqRow domain.SequenceRow
	err := s.db.First(&seqRow, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seqRow.Value, nil
}

// LoadWallets returns every persisted balance for recovery.
func (s *Store) LoadWallets() ([]domain.WalletRow, error) {
	var rows []domain.WalletRow
	err := s.db.Find(&rows).Error
	return rows, err
}

// LoadOrders returns the resting orders ordered by creation time so that
// re-inserting them reproduces price-time priority.
func (s *Store) LoadOrders() ([]domain.OrderRow, error) {
	var rows []domain.OrderRow
	err := s.db.Where("status = ?", domain.OrderStatusActive).
		Order("created_at asc").Find(&rows).Error
	return rows, err
}

// LoadProcessed returns dedup records newer than the given bound.
func (s *Store) LoadProcessed(since time.Time) ([]domain.ProcessedMessageRow, error) {
	var rows []domain.ProcessedMessageRow
	err := s.db.Where("timestamp >= ?", since).Find(&rows).Error
	return rows, err
}

// PruneProcessed deletes dedup records older than the bound. Maintenance
// only; never runs inside a commit.
func (s *Store) PruneProcessed(before time.Time) (int64, error) {
	res := s.db.Where("timestamp < ?", before).Delete(&domain.ProcessedMessageRow{})
	return res.RowsAffected, res.Error
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
