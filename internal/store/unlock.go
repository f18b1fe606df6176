package store

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/mailfit/mailfit/internal/domain"
)

const unlockDBName = "unlock.db"

// EncryptedUnlockStore implements domain.UnlockStore on a SQLCipher
// database. The unlock flag lives outside the plain-text KV store so a
// casual edit of state.json cannot grant a free unlock. There is no
// code path that clears the flag.
type EncryptedUnlockStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedUnlockStore opens (or creates) the encrypted unlock
// database. The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedUnlockStore(dataDir string, key []byte) (*EncryptedUnlockStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, unlockDBName)
	keyHex := hex.EncodeToString(key)

	// Open with SQLCipher key as DSN parameter
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// Verify encryption works by running a query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedUnlockStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *EncryptedUnlockStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS flags (
		name TEXT PRIMARY KEY,
		set_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS milestones (
		name TEXT PRIMARY KEY,
		reached_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const unlockFlagName = "paid_unlock"

// IsUnlocked reports whether the paid unlock flag is set.
func (s *EncryptedUnlockStore) IsUnlocked() (bool, error) {
	var setAt int64
	err := s.db.QueryRow(`SELECT set_at FROM flags WHERE name = ?`, unlockFlagName).Scan(&setAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetUnlocked sets the unlock flag. Re-setting is a no-op.
func (s *EncryptedUnlockStore) SetUnlocked() error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO flags (name, set_at) VALUES (?, ?)`,
		unlockFlagName, time.Now().Unix())
	return err
}

// MarkMilestone records a named one-time marker.
func (s *EncryptedUnlockStore) MarkMilestone(name string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO milestones (name, reached_at) VALUES (?, ?)`,
		name, time.Now().Unix())
	return err
}

// HasMilestone reports whether a marker has been recorded.
func (s *EncryptedUnlockStore) HasMilestone(name string) (bool, error) {
	var reachedAt int64
	err := s.db.QueryRow(`SELECT reached_at FROM milestones WHERE name = ?`, name).Scan(&reachedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the database connection.
func (s *EncryptedUnlockStore) Close() error {
	return s.db.Close()
}

// Ensure EncryptedUnlockStore implements domain.UnlockStore.
var _ domain.UnlockStore = (*EncryptedUnlockStore)(nil)
