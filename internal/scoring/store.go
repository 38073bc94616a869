package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	SourceFile    = "file"
	SourceDefault = "default"
)

// TableStore serves the active scoring table and swaps it on reload.
// A missing or unreadable file never fails lookups: the store serves the
// compiled-in default until a valid file appears.
type TableStore struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	table  *Table
	source string
	hash   string
}

// NewTableStore creates a store for path and performs the initial load.
// An empty path serves the default table.
func NewTableStore(path string, logger *zap.Logger) *TableStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TableStore{
		path:   path,
		logger: logger.Named("scoring"),
		table:  DefaultTable(),
		source: SourceDefault,
	}
	if path != "" {
		_, _ = s.Reload()
	}
	return s
}

// Table returns the active table.
func (s *TableStore) Table() *Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Source reports whether the active table came from the file or the default.
func (s *TableStore) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

func (s *TableStore) Lookup(emitterType string) Risk {
	return s.Table().Lookup(emitterType)
}

// Reload re-reads the file. It reports whether the active table changed.
// On a load failure the default table becomes active and the error is returned.
func (s *TableStore) Reload() (bool, error) {
	if s.path == "" {
		return false, nil
	}

	data, readErr := os.ReadFile(s.path)
	var (
		next    *Table
		source  = SourceFile
		hash    string
		loadErr error
	)
	if readErr != nil {
		loadErr = fmt.Errorf("read scoring table: %w", readErr)
	} else {
		sum := sha256.Sum256(data)
		hash = hex.EncodeToString(sum[:])
		next, loadErr = ParseTable(data)
	}
	if loadErr != nil {
		next, source, hash = DefaultTable(), SourceDefault, ""
		if errors.Is(readErr, os.ErrNotExist) {
			s.logger.Warn("Scoring table not found, using built-in defaults", zap.String("path", s.path))
		} else {
			s.logger.Error("Failed to load scoring table, using built-in defaults", zap.String("path", s.path), zap.Error(loadErr))
		}
	}

	s.mu.Lock()
	prev, prevSource, prevHash := s.table, s.source, s.hash
	changed := prevSource != source || prevHash != hash
	if changed {
		s.table, s.source, s.hash = next, source, hash
	}
	s.mu.Unlock()

	if changed {
		fields := []zap.Field{
			zap.String("path", s.path),
			zap.String("source", source),
			zap.Int("entries", len(next.Entries)),
		}
		if diff, err := DiffTables(prev, next, prevSource, source); err == nil && diff != "" {
			fields = append(fields, zap.String("diff", diff))
		}
		s.logger.Info("Scoring table loaded", fields...)
	}
	return changed, loadErr
}

// Watch reloads the table whenever its file is written, created, renamed or
// removed, until ctx is cancelled. The parent directory is watched so that
// editors replacing the file are seen.
func (s *TableStore) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create table watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if _, err := s.Reload(); err != nil {
				s.logger.Debug("Reload after file event failed", zap.String("op", ev.Op.String()), zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Scoring table watcher error", zap.Error(err))
		}
	}
}
