package pomelo

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/golang/snappy"
)

// Backend is the byte-level storage interface beneath the Store. It allows
// the database blob to live on the local filesystem, in memory, in SQLite
// or in S3-compatible object storage.
type Backend interface {
	// Read reads the blob stored under key.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write replaces the blob stored under key.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes the blob stored under key.
	Delete(ctx context.Context, key string) error

	// Exists checks whether a blob exists under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases any resources.
	Close() error
}

// Ensure interfaces are implemented.
var (
	_ Backend = (*FileBackend)(nil)
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*SQLiteBackend)(nil)
	_ Backend = (*S3Backend)(nil)
)

// FileBackend stores blobs as plain files; the key is the file path.
type FileBackend struct{}

// NewFileBackend creates a filesystem-backed Backend.
func NewFileBackend() *FileBackend {
	return &FileBackend{}
}

func (f *FileBackend) Read(ctx context.Context, key string) ([]byte, error) {
	return os.ReadFile(key)
}

// Write replaces the file contents via a temp file and rename, so the
// process never observes a half-written database.
func (f *FileBackend) Write(ctx context.Context, key string, data []byte) error {
	tmp := key + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, key)
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	err := os.Remove(key)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FileBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (f *FileBackend) Close() error {
	return nil
}

// MemoryBackend stores blobs in memory. Useful for tests.
type MemoryBackend struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Read(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *MemoryBackend) Write(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.data[key]
	return ok, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

// WriteMode selects how Store.Write reconciles with the existing file.
type WriteMode int

const (
	// WriteMerge overlays the incoming tables onto the existing file;
	// tables absent from the incoming database are retained.
	WriteMerge WriteMode = iota
	// WriteReplace overwrites the file wholesale.
	WriteReplace
)

// StoreConfig configures a Store.
type StoreConfig struct {
	// Backend holds the blob. Defaults to FileBackend.
	Backend Backend

	// Key is the blob key: the file path for FileBackend.
	Key string

	// Compression enables snappy compression of the rendered blob.
	Compression bool

	// Encryption enables encryption at rest. Applied after compression.
	Encryption *EncryptionConfig
}

// Store is the persistence adapter: it reads and writes the entire database
// as one structured blob, applying the codec plus any configured byte
// transforms symmetrically.
type Store struct {
	backend  Backend
	key      string
	compress bool
	enc      *EncryptionConfig
}

// NewStore creates a Store over the configured backend.
func NewStore(cfg StoreConfig) *Store {
	backend := cfg.Backend
	if backend == nil {
		backend = NewFileBackend()
	}
	return &Store{
		backend:  backend,
		key:      cfg.Key,
		compress: cfg.Compression,
		enc:      cfg.Encryption,
	}
}

// Exists reports whether the backing blob is present.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	return s.backend.Exists(ctx, s.key)
}

// Read loads and fully decodes the backing blob.
func (s *Store) Read(ctx context.Context) (*Database, error) {
	data, err := s.backend.Read(ctx, s.key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, newStorageError(StorageErrorTypeMissing, "database does not exist", s.key, err)
		}
		return nil, newStorageError(StorageErrorTypeRead, "read failed", s.key, err)
	}

	if s.enc != nil && s.enc.Enabled {
		data, err = decryptBlob(data, s.enc)
		if err != nil {
			return nil, newStorageError(StorageErrorTypeCorruption, "decrypt failed", s.key, err)
		}
	}
	if s.compress {
		data, err = snappy.Decode(nil, data)
		if err != nil {
			return nil, newStorageError(StorageErrorTypeCorruption, "decompress failed", s.key, err)
		}
	}

	db, err := unmarshalDatabase(data)
	if err != nil {
		return nil, newStorageError(StorageErrorTypeCorruption, "decode failed", s.key, err)
	}
	return db, nil
}

// Write serializes the database and overwrites the backing blob. WriteMerge
// first loads the current file and overlays the incoming tables onto it;
// WriteReplace writes the incoming state wholesale.
func (s *Store) Write(ctx context.Context, db *Database, mode WriteMode) error {
	out := db
	if mode == WriteMerge {
		existing, err := s.Read(ctx)
		switch {
		case err == nil:
			for _, name := range db.TableNames() {
				existing.tables[name] = db.tables[name]
			}
			existing.Version = db.Version
			out = existing
		case errors.Is(err, ErrNotFound):
			// Nothing to merge into.
		default:
			return err
		}
	}

	data, err := marshalDatabase(out)
	if err != nil {
		return err
	}
	if s.compress {
		data = snappy.Encode(nil, data)
	}
	if s.enc != nil && s.enc.Enabled {
		data, err = encryptBlob(data, s.enc)
		if err != nil {
			return err
		}
	}

	if err := s.backend.Write(ctx, s.key, data); err != nil {
		return newStorageError(StorageErrorTypeWrite, "write failed", s.key, err)
	}
	return nil
}

// Initialize creates a fresh empty database with the schema version stamped
// and the default table present, replacing whatever the blob held.
func (s *Store) Initialize(ctx context.Context, version []int, defaultTable string) error {
	db := NewDatabase(version)
	db.EnsureTable(defaultTable)
	return s.Write(ctx, db, WriteReplace)
}

// Close releases the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
