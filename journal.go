package healthsync

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/golang/snappy"
)

// JournalConfig configures the raw payload journal.
type JournalConfig struct {
	// Enabled turns on journaling of inbound payloads
	Enabled bool `yaml:"enabled"`

	// Path is the journal directory
	Path string `yaml:"path"`

	// MaxBytes caps the journal size; appends beyond it are dropped
	MaxBytes int64 `yaml:"max_bytes"`

	// Passphrase encrypts entries at rest when non-empty
	Passphrase string `yaml:"passphrase"`
}

// DefaultJournalConfig returns default journal configuration.
func DefaultJournalConfig() JournalConfig {
	return JournalConfig{
		Enabled:  false,
		Path:     "journal",
		MaxBytes: 64 * 1024 * 1024,
	}
}

const journalSuffix = ".pay"

// Journal is an append-only archive of raw inbound payloads, one
// snappy-compressed (and optionally encrypted) file per payload. It exists
// for debugging and recovery: Replay feeds archived payloads back through
// the decode pipeline after a bug fix or a lost database.
type Journal struct {
	config JournalConfig
	enc    *encryptor

	mu     sync.Mutex
	size   int64
	seq    uint64
	closed bool
}

// NewJournal opens (creating if necessary) the journal directory.
func NewJournal(config JournalConfig) (*Journal, error) {
	if config.Path == "" {
		config.Path = "journal"
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 64 * 1024 * 1024
	}
	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{config: config}

	if config.Passphrase != "" {
		salt, err := loadOrCreateSalt(filepath.Join(config.Path, "journal.salt"))
		if err != nil {
			return nil, fmt.Errorf("failed to load journal salt: %w", err)
		}
		j.enc, err = newEncryptor(config.Passphrase, salt)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize journal encryption: %w", err)
		}
	}

	// Resume the size budget from whatever is already on disk.
	entries, err := os.ReadDir(config.Path)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != journalSuffix {
			continue
		}
		if info, err := entry.Info(); err == nil {
			j.size += info.Size()
		}
	}
	return j, nil
}

// Append archives one payload under its session tag and item size. The item
// size is stored so a replayed payload can be framed again.
func (j *Journal) Append(tag uint32, itemSize int, payload []byte) error {
	entry := binary.LittleEndian.AppendUint32(make([]byte, 0, 8+len(payload)), tag)
	entry = binary.LittleEndian.AppendUint32(entry, uint32(itemSize))
	entry = append(entry, payload...)
	data := snappy.Encode(nil, entry)

	if j.enc != nil {
		var err error
		data, err = j.enc.seal(data)
		if err != nil {
			return fmt.Errorf("failed to seal journal entry: %w", err)
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if j.size+int64(len(data)) > j.config.MaxBytes {
		slog.Warn("journal full, dropping payload", "bytes", len(payload), "journal_bytes", j.size)
		return ErrJournalFull
	}

	j.seq++
	name := fmt.Sprintf("%d-%06d%s", time.Now().UnixNano(), j.seq, journalSuffix)
	if err := os.WriteFile(filepath.Join(j.config.Path, name), data, 0600); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	j.size += int64(len(data))
	return nil
}

// Replay walks archived payloads in append order and hands each to fn.
// A callback error stops the replay; undecodable entries are skipped with a
// warning.
func (j *Journal) Replay(fn func(tag uint32, itemSize int, payload []byte) error) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	j.mu.Unlock()

	entries, err := os.ReadDir(j.config.Path)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == journalSuffix {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(j.config.Path, name))
		if err != nil {
			slog.Warn("skipping unreadable journal entry", "entry", name, "err", err)
			continue
		}
		if j.enc != nil {
			data, err = j.enc.open(data)
			if err != nil {
				slog.Warn("skipping undecryptable journal entry", "entry", name, "err", err)
				continue
			}
		}
		entry, err := snappy.Decode(nil, data)
		if err != nil || len(entry) < 8 {
			slog.Warn("skipping corrupt journal entry", "entry", name, "err", err)
			continue
		}
		tag := binary.LittleEndian.Uint32(entry[:4])
		itemSize := int(binary.LittleEndian.Uint32(entry[4:8]))
		if err := fn(tag, itemSize, entry[8:]); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the journal's current on-disk byte count.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// Close marks the journal closed; archived entries stay on disk.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}
