// FILE: chatwisp/src/internal/store/file.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"

	"github.com/klauspost/compress/zstd"
	"github.com/lixenwraith/log"
)

const errorsDocument = "errors"

// FileStore keeps each collection as one JSON array document, newest first.
// Every write is a read-modify-write of the whole document under the store
// lock, replaced atomically through a temp file and rename.
type FileStore struct {
	dir        string
	name       string
	compress   bool
	maxEntries int
	maxErrors  int
	logger     *log.Logger

	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	totalAppended atomic.Uint64
	corruptReads  atomic.Uint64
	lastWrite     atomic.Value // time.Time
}

func NewFileStore(cfg config.FileStoreConfig, maxEntries, maxErrors int, logger *log.Logger) (*FileStore, error) {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	f := &FileStore{
		dir:        cfg.Directory,
		name:       cfg.Name,
		compress:   cfg.Compress,
		maxEntries: maxEntries,
		maxErrors:  maxErrors,
		logger:     logger,
	}
	f.lastWrite.Store(time.Time{})

	if cfg.Compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			enc.Close()
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		f.encoder = enc
		f.decoder = dec
	}

	return f, nil
}

func (f *FileStore) Append(_ context.Context, entry core.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := readDocument[core.LogEntry](f, f.name)
	if err != nil {
		return core.StoreError("read", err)
	}

	entries = prependCapped(entries, entry, f.maxEntries)
	if err := f.writeDocument(f.name, entries); err != nil {
		return core.StoreError("write", err)
	}

	f.totalAppended.Add(1)
	f.lastWrite.Store(time.Now())
	return nil
}

func (f *FileStore) List(_ context.Context, limit int) ([]core.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := readDocument[core.LogEntry](f, f.name)
	if err != nil {
		return nil, core.StoreError("read", err)
	}
	return head(entries, limit), nil
}

func (f *FileStore) RecordError(_ context.Context, rec core.ErrorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := readDocument[core.ErrorRecord](f, errorsDocument)
	if err != nil {
		return core.StoreError("read errors", err)
	}

	records = prependCapped(records, rec, f.maxErrors)
	if err := f.writeDocument(errorsDocument, records); err != nil {
		return core.StoreError("write errors", err)
	}
	return nil
}

func (f *FileStore) Errors(_ context.Context, limit int) ([]core.ErrorRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := readDocument[core.ErrorRecord](f, errorsDocument)
	if err != nil {
		return nil, core.StoreError("read errors", err)
	}
	return head(records, limit), nil
}

func (f *FileStore) Name() string {
	return "file"
}

func (f *FileStore) GetStats() map[string]any {
	lastWrite, _ := f.lastWrite.Load().(time.Time)
	return map[string]any{
		"backend":        "file",
		"path":           f.path(f.name),
		"compressed":     f.compress,
		"max_entries":    f.maxEntries,
		"total_appended": f.totalAppended.Load(),
		"corrupt_reads":  f.corruptReads.Load(),
		"last_write":     lastWrite,
	}
}

func (f *FileStore) Close() error {
	if f.encoder != nil {
		f.encoder.Close()
	}
	if f.decoder != nil {
		f.decoder.Close()
	}
	return nil
}

func (f *FileStore) path(doc string) string {
	name := doc + ".json"
	if f.compress {
		name += ".zst"
	}
	return filepath.Join(f.dir, name)
}

// Loads a document. A missing or unparsable document reads as an empty
// collection; only I/O failures other than absence are returned.
func readDocument[T any](f *FileStore, doc string) ([]T, error) {
	path := f.path(doc)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	if f.compress {
		data, err = f.decoder.DecodeAll(data, nil)
		if err != nil {
			f.markCorrupt(path, err)
			return nil, nil
		}
	}

	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		f.markCorrupt(path, err)
		return nil, nil
	}
	return out, nil
}

func (f *FileStore) markCorrupt(path string, err error) {
	f.corruptReads.Add(1)
	f.logger.Warn("msg", "Store document unreadable, treating as empty",
		"component", "file_store",
		"path", path,
		"error", err)
}

func (f *FileStore) writeDocument(doc string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if f.compress {
		data = f.encoder.EncodeAll(data, nil)
	}

	path := f.path(doc)
	tmp, err := os.CreateTemp(f.dir, "."+doc+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace document: %w", err)
	}
	return nil
}
