package storage

import (
	"database/sql"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store is the persistent key-value store behind the per-user conversation
// state. Values are opaque strings; absent keys are reported, never errors.
// The analysis credential gets dedicated accessors because it is encrypted
// at rest.
type Store interface {
	Get(userID int64, key string) (value string, ok bool, err error)
	Set(userID int64, key, value string) error
	Delete(userID int64, key string) error

	// Credential methods. An unreadable stored credential is treated as
	// unset rather than an error.
	GetCredential(userID int64) (string, error)
	SetCredential(userID int64, credential string) error
	DeleteCredential(userID int64) error

	Close() error
}

// SQLiteStore implements Store using SQLite with encrypted credentials.
type SQLiteStore struct {
	db            *sql.DB
	encryptionKey []byte
	mu            sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed store at dbPath.
// The encryptionKey is used to encrypt and decrypt stored credentials.
func NewSQLiteStore(dbPath string, encryptionKey []byte) (*SQLiteStore, error) {
	// WAL mode and a busy timeout for better concurrency
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps writes serialized and makes :memory:
	// databases behave, where every pooled connection would otherwise get
	// its own empty database
	db.SetMaxOpenConns(1)

	// Set file permissions (only works on creation)
	if err := os.Chmod(dbPath, 0600); err != nil && !os.IsNotExist(err) {
		// Ignore error if file doesn't exist yet
	}

	store := &SQLiteStore{
		db:            db,
		encryptionKey: encryptionKey,
	}

	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	kvQuery := `
	CREATE TABLE IF NOT EXISTS kv (
		user_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, key)
	);
	`
	if _, err := s.db.Exec(kvQuery); err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}

	credentialsQuery := `
	CREATE TABLE IF NOT EXISTS credentials (
		user_id INTEGER PRIMARY KEY,
		encrypted_credential TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(credentialsQuery); err != nil {
		return fmt.Errorf("failed to create credentials table: %w", err)
	}

	return nil
}

// Get retrieves a value. ok is false if the key is absent.
func (s *SQLiteStore) Get(userID int64, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow(
		"SELECT value FROM kv WHERE user_id = ? AND key = ?",
		userID, key,
	).Scan(&value)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query kv: %w", err)
	}

	return value, true, nil
}

// Set stores a value, replacing any previous one.
func (s *SQLiteStore) Set(userID int64, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO kv (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set kv: %w", err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *SQLiteStore) Delete(userID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM kv WHERE user_id = ? AND key = ?", userID, key); err != nil {
		return fmt.Errorf("failed to delete kv: %w", err)
	}
	return nil
}

// GetCredential returns the user's decrypted analysis credential, or "" if
// none is stored. A stored credential that no longer decrypts (key rotation,
// corruption) is treated as unset.
func (s *SQLiteStore) GetCredential(userID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var encrypted string
	err := s.db.QueryRow(
		"SELECT encrypted_credential FROM credentials WHERE user_id = ?",
		userID,
	).Scan(&encrypted)

	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query credential: %w", err)
	}

	plaintext, err := Decrypt(encrypted, s.encryptionKey)
	if err != nil {
		log.Warn().Err(err).Int64("userId", userID).Msg("stored credential is unreadable, treating as unset")
		return "", nil
	}

	return string(plaintext), nil
}

// SetCredential stores the user's analysis credential encrypted at rest.
func (s *SQLiteStore) SetCredential(userID int64, credential string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encrypted, err := Encrypt([]byte(credential), s.encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO credentials (user_id, encrypted_credential, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET encrypted_credential = excluded.encrypted_credential, updated_at = excluded.updated_at`,
		userID, encrypted, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// DeleteCredential removes the user's stored credential.
func (s *SQLiteStore) DeleteCredential(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM credentials WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UserKV scopes a Store to one user's keys. It satisfies the key-value
// contract the conversation log persists through.
type UserKV struct {
	store  Store
	userID int64
}

// NewUserKV returns a per-user view over the store.
func NewUserKV(store Store, userID int64) *UserKV {
	return &UserKV{store: store, userID: userID}
}

func (u *UserKV) Get(key string) (string, bool, error) {
	return u.store.Get(u.userID, key)
}

func (u *UserKV) Set(key, value string) error {
	return u.store.Set(u.userID, key, value)
}

func (u *UserKV) Delete(key string) error {
	return u.store.Delete(u.userID, key)
}
