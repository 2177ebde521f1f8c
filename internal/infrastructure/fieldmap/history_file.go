package fieldmap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/erp/ingestion/internal/domain/mapping"
)

// DefaultHistoryFile is the default location of the JSON history
const DefaultHistoryFile = "data/mapping_history.json"

// FileHistoryStore keeps confirmed mappings in one JSON document. Every
// mutation rewrites the whole file through a temp file and rename. In-process
// access is serialised, but there is no file lock: two processes writing the
// same file lose each other's updates (last write wins)
type FileHistoryStore struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*mapping.HistoryEntry
}

var _ mapping.HistoryStore = (*FileHistoryStore)(nil)

// NewFileHistoryStore loads path, creating an empty history file when it
// does not exist yet
func NewFileHistoryStore(path string, logger *zap.Logger) (*FileHistoryStore, error) {
	if path == "" {
		path = DefaultHistoryFile
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileHistoryStore{
		path:    path,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*mapping.HistoryEntry),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		logger.Info("Mapping history not found, creating", zap.String("path", path))
		if err := s.persist(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read mapping history: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.entries); err != nil {
			return nil, fmt.Errorf("failed to parse mapping history %s: %w", path, err)
		}
	}
	if s.entries == nil {
		s.entries = make(map[string]*mapping.HistoryEntry)
	}
	logger.Info("Loaded mapping history", zap.String("path", path), zap.Int("keys", len(s.entries)))
	return s, nil
}

// Path returns the backing file
func (s *FileHistoryStore) Path() string {
	return s.path
}

// GetMapping implements mapping.HistoryStore
func (s *FileHistoryStore) GetMapping(_ context.Context, key, field string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	col, ok := e.Mappings[field]
	return col, ok, nil
}

// GetAllMappings implements mapping.HistoryStore
func (s *FileHistoryStore) GetAllMappings(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	if e, ok := s.entries[key]; ok {
		for f, c := range e.Mappings {
			out[f] = c
		}
	}
	return out, nil
}

// SaveMapping implements mapping.HistoryStore. A zero confidence is stored as
// 100 and an empty method as user_confirmed
func (s *FileHistoryStore) SaveMapping(_ context.Context, key, field, column string, confidence float64, method mapping.Method) error {
	if confidence == 0 {
		confidence = 100
	}
	if method == "" {
		method = mapping.MethodUserConfirmed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.entry(key, now).Set(field, column, confidence, method, now)
	return s.persist()
}

// SaveBatchMappings implements mapping.HistoryStore
func (s *FileHistoryStore) SaveBatchMappings(_ context.Context, key string, mappings map[string]string, meta map[string]mapping.FieldMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.entry(key, now)
	for f, c := range mappings {
		e.Mappings[f] = c
	}
	for f, m := range meta {
		e.Metadata[f] = m
	}
	e.UpdatedAt = now
	return s.persist()
}

// DeleteMapping implements mapping.HistoryStore
func (s *FileHistoryStore) DeleteMapping(_ context.Context, key, field string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.logger.Warn("Mapping key not found", zap.String("mapping_key", key))
		return false, nil
	}

	if field == "" {
		delete(s.entries, key)
		s.logger.Info("Deleted mapping key", zap.String("mapping_key", key))
	} else {
		if _, ok := e.Mappings[field]; !ok {
			s.logger.Warn("Field mapping not found", zap.String("mapping_key", key), zap.String("field", field))
			return false, nil
		}
		delete(e.Mappings, field)
		delete(e.Metadata, field)
		e.UpdatedAt = s.now()
		s.logger.Info("Deleted field mapping", zap.String("mapping_key", key), zap.String("field", field))
	}
	return true, s.persist()
}

// Statistics implements mapping.HistoryStore
func (s *FileHistoryStore) Statistics(_ context.Context) (mapping.HistoryStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mapping.ComputeStatistics(s.entries), nil
}

// Entries implements mapping.HistoryStore
func (s *FileHistoryStore) Entries(_ context.Context) (map[string]*mapping.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*mapping.HistoryEntry, len(s.entries))
	for k, e := range s.entries {
		out[k] = e.Clone()
	}
	return out, nil
}

// entry returns the entry for key, creating it. Callers hold mu
func (s *FileHistoryStore) entry(key string, now time.Time) *mapping.HistoryEntry {
	e, ok := s.entries[key]
	if !ok {
		e = mapping.NewHistoryEntry(now)
		s.entries[key] = e
	}
	if e.Mappings == nil {
		e.Mappings = make(map[string]string)
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]mapping.FieldMeta)
	}
	return e
}

// persist writes the whole history. Callers hold mu
func (s *FileHistoryStore) persist() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mapping history: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp history file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write mapping history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write mapping history: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace mapping history: %w", err)
	}

	s.logger.Debug("Saved mapping history", zap.String("path", s.path), zap.Int("keys", len(s.entries)))
	return nil
}

// ExportYAML writes every entry of store as a YAML document, keys sorted
func ExportYAML(ctx context.Context, store mapping.HistoryStore, w io.Writer) error {
	entries, err := store.Entries(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		var value yaml.Node
		if err := value.Encode(entries[k]); err != nil {
			return fmt.Errorf("failed to encode %s: %w", k, err)
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &value)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return fmt.Errorf("failed to write yaml: %w", err)
	}
	return enc.Close()
}
