package specialcase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
)

// FileStore keeps the knowledge base in a single JSON document.
type FileStore struct {
	path   string
	logger *logger.Logger
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string, log *logger.Logger) *FileStore {
	if log == nil {
		log = logger.Discard()
	}
	return &FileStore{path: path, logger: log.WithModule("kb_file")}
}

type rawSnapshot struct {
	Cases []json.RawMessage `json:"cases"`
	Stats Stats             `json:"stats"`
}

// Load reads the document. A missing file returns errors.ErrNotFound.
// Records that fail to decode are skipped with a warning.
func (s *FileStore) Load(_ context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	return DecodeSnapshot(data, s.logger)
}

// Save writes the document atomically (temp file + rename).
func (s *FileStore) Save(_ context.Context, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode knowledge base: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create knowledge base dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".kb-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename knowledge base: %w", err)
	}
	return nil
}

// DecodeSnapshot parses a JSON snapshot, skipping records that do not decode.
func DecodeSnapshot(data []byte, log *logger.Logger) (*Snapshot, error) {
	if log == nil {
		log = logger.Discard()
	}
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode knowledge base: %w", err)
	}
	snap := &Snapshot{Stats: raw.Stats, Cases: make([]SpecialCase, 0, len(raw.Cases))}
	for i, r := range raw.Cases {
		var c SpecialCase
		if err := json.Unmarshal(r, &c); err != nil {
			log.WithError(err).WithField("index", i).Warn("Skipping undecodable knowledge base entry")
			continue
		}
		snap.Cases = append(snap.Cases, c)
	}
	return snap, nil
}
