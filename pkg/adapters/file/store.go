package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aretw0/scenesync/pkg/domain"
)

const ext = ".json"

// Store implements ports.SnapshotStore on the local filesystem, one JSON
// file per document.
type Store struct {
	BasePath string
}

// New creates a Store rooted at basePath, ".scenesync/docs" when empty.
func New(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".scenesync", "docs")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(docID string) (string, error) {
	if docID == "" {
		return "", fmt.Errorf("%w: docID cannot be empty", domain.ErrInvalidValue)
	}
	if strings.ContainsAny(docID, `/\`) || docID == "." || docID == ".." {
		return "", fmt.Errorf("%w: docID %q is not a valid file name", domain.ErrInvalidValue, docID)
	}
	return filepath.Join(s.BasePath, docID+ext), nil
}

// Save writes the snapshot to a temp file in the same directory, fsyncs it
// and renames it over the previous version.
func (s *Store) Save(ctx context.Context, docID string, snap *domain.EntitySnapshot) error {
	destPath, err := s.path(docID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return fmt.Errorf("failed to ensure document directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.BasePath, "tmp-"+docID+"-*"+ext)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// os.Rename does not replace an existing file on Windows.
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove previous snapshot: %w", err)
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Load reads the snapshot of docID.
func (s *Store) Load(ctx context.Context, docID string) (*domain.EntitySnapshot, error) {
	filePath, err := s.path(docID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snap domain.EntitySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Delete removes the snapshot file. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, docID string) error {
	filePath, err := s.path(docID)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}
	return nil
}

// List returns the stored document ids in sorted order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	ids := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ext || strings.HasPrefix(name, "tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	sort.Strings(ids)
	return ids, nil
}
