package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const defaultFilePragmas = "mode=rwc&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Entry is the row layout used by the SQL backend.
type Entry struct {
	Key   string `gorm:"column:entry_key;primaryKey;size:512"`
	Value []byte `gorm:"column:entry_value"`
}

// TableName pins the table name regardless of gorm naming strategy.
func (Entry) TableName() string { return "ledger_entries" }

// SQLDB stores key/value pairs in a single relational table.
type SQLDB struct {
	db *gorm.DB
	// keyExpr is the key column under byte-order collation.
	keyExpr string
}

// OpenSQLite opens (or creates) an SQLite-backed store. A bare filesystem path is
// converted into a DSN with WAL and busy-timeout pragmas.
func OpenSQLite(pathOrDSN string) (*SQLDB, error) {
	dsn, err := FileDSN(pathOrDSN)
	if err != nil {
		return nil, err
	}
	return openSQL(sqlite.Open(dsn))
}

// OpenPostgres connects to a PostgreSQL database using the supplied DSN.
func OpenPostgres(dsn string) (*SQLDB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	return openSQL(postgres.Open(trimmed))
}

// NewSQLDB wraps an existing gorm handle, migrating the entry table.
func NewSQLDB(db *gorm.DB) (*SQLDB, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm handle required")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate ledger entries: %w", err)
	}
	return &SQLDB{db: db, keyExpr: keyExpr(db.Dialector.Name())}, nil
}

func openSQL(dialector gorm.Dialector) (*SQLDB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store, err := NewSQLDB(db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return store, nil
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN with sensible
// defaults. Values that already look like DSNs are returned unchanged.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("sqlite path required")
	}
	if strings.HasPrefix(trimmed, "file:") {
		return trimmed, nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve storage path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

func (s *SQLDB) Put(key []byte, value []byte) error {
	return s.db.Clauses(upsert()).Create(&Entry{Key: string(key), Value: clone(value)}).Error
}

func (s *SQLDB) Get(key []byte) ([]byte, error) {
	var entry Entry
	err := s.db.Where("entry_key = ?", string(key)).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func (s *SQLDB) Has(key []byte) (bool, error) {
	var count int64
	if err := s.db.Model(&Entry{}).Where("entry_key = ?", string(key)).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *SQLDB) Delete(key []byte) error {
	return s.db.Where("entry_key = ?", string(key)).Delete(&Entry{}).Error
}

// Write commits the batch inside one database transaction.
func (s *SQLDB) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, op := range batch.ops {
			if op.delete {
				if err := tx.Where("entry_key = ?", string(op.key)).Delete(&Entry{}).Error; err != nil {
					return err
				}
				continue
			}
			if err := tx.Clauses(upsert()).Create(&Entry{Key: string(op.key), Value: op.value}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	query := s.db.Model(&Entry{}).Order(s.keyExpr + " ASC")
	if len(prefix) > 0 {
		query = query.Where(s.keyExpr+" >= ?", string(prefix))
		if end := prefixEnd(prefix); end != nil {
			query = query.Where(s.keyExpr+" < ?", string(end))
		}
	}
	var entries []Entry
	if err := query.Find(&entries).Error; err != nil {
		return err
	}
	for _, entry := range entries {
		if err := fn([]byte(entry.Key), entry.Value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLDB) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func upsert() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value"}),
	}
}

// keyExpr pins range scans to byte order. SQLite compares TEXT with BINARY by
// default; Postgres uses the database collation unless told otherwise.
func keyExpr(dialect string) string {
	if dialect == "postgres" {
		return `entry_key COLLATE "C"`
	}
	return "entry_key"
}

// prefixEnd returns the smallest key greater than every key with the prefix,
// or nil when no such bound exists.
func prefixEnd(prefix []byte) []byte {
	end := clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
