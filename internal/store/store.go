package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type opType string

const (
	opPut    opType = "put"
	opDelete opType = "delete"
)

// WALFile is the name of the log inside the data directory.
const WALFile = "store.wal"

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("store is closed")

type walRecord struct {
	Op    opType `json:"op"`
	Key   string `json:"key"`
	Value []byte `json:"value,omitempty"`
}

// Store is a simple, single-node, disk-backed key–value store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte

	walPath string
	walFile *os.File
}

// New creates a new Store and replays any existing WAL.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	walPath := filepath.Join(dataDir, WALFile)

	f, err := os.OpenFile(walPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	s := &Store{
		data:    make(map[string][]byte),
		walPath: walPath,
		walFile: f,
	}

	if err := s.replayWAL(); err != nil {
		_ = f.Close()
		return nil, err
	}

	if err := s.reopenWALAppend(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return s, nil
}

// replayWAL reads all records from the WAL and rebuilds in-memory state.
// A torn final line, left by a crash mid-write, is dropped; a bad record
// anywhere else is an error.
func (s *Store) replayWAL() error {
	if _, err := s.walFile.Seek(0, 0); err != nil {
		return fmt.Errorf("seek wal: %w", err)
	}

	reader := bufio.NewReader(s.walFile)
	for line := 1; ; line++ {
		raw, readErr := reader.ReadBytes('\n')
		if len(raw) == 0 && readErr != nil {
			break
		}
		complete := len(raw) > 0 && raw[len(raw)-1] == '\n'

		var rec walRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			if !complete {
				break
			}
			return fmt.Errorf("decode wal record %d: %w", line, err)
		}

		switch rec.Op {
		case opPut:
			s.data[rec.Key] = append([]byte(nil), rec.Value...)
		case opDelete:
			delete(s.data, rec.Key)
		default:
			return fmt.Errorf("unknown wal op: %s", rec.Op)
		}
		if readErr != nil {
			break
		}
	}
	return nil
}

func (s *Store) reopenWALAppend() error {
	if err := s.walFile.Close(); err != nil {
		return fmt.Errorf("close wal: %w", err)
	}
	f, err := os.OpenFile(s.walPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen wal append: %w", err)
	}
	s.walFile = f
	return nil
}

// Put sets a key to a value (and persists it).
func (s *Store) Put(key string, value []byte) error {
	if key == "" {
		return errors.New("empty key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendRecord(walRecord{Op: opPut, Key: key, Value: value}); err != nil {
		return err
	}

	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Get returns the value for a key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Delete removes a key (and persists it).
func (s *Store) Delete(key string) error {
	if key == "" {
		return errors.New("empty key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendRecord(walRecord{Op: opDelete, Key: key}); err != nil {
		return err
	}

	delete(s.data, key)
	return nil
}

// Keys returns a snapshot of all keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Scan calls fn for every key with the given prefix in key order, stopping
// at the first error.
func (s *Store) Scan(prefix string, fn func(key string, value []byte) error) error {
	s.mu.RLock()
	keys := make([]string, 0)
	values := make(map[string][]byte)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
			values[k] = append([]byte(nil), v...)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying WAL file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.walFile != nil {
		if err := s.walFile.Close(); err != nil {
			return err
		}
		s.walFile = nil
	}
	return nil
}

// appendRecord writes a single WAL record and fsyncs it. Callers hold s.mu.
func (s *Store) appendRecord(rec walRecord) error {
	if s.walFile == nil {
		return ErrClosed
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal wal record: %w", err)
	}
	b = append(b, '\n')

	if _, err := s.walFile.Write(b); err != nil {
		return fmt.Errorf("write wal: %w", err)
	}
	if err := s.walFile.Sync(); err != nil {
		return fmt.Errorf("sync wal: %w", err)
	}
	return nil
}
