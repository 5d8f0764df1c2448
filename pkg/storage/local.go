package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalArchive implements Archive using the local filesystem
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates a filesystem-backed archive rooted at basePath
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalArchive{basePath: basePath}, nil
}

// Save stores the raw export alongside its import outcome
func (a *LocalArchive) Save(ctx context.Context, info ArchiveInfo, r io.Reader) (*ArchiveInfo, error) {
	info.ID = uuid.New()
	info.ArchivedAt = time.Now()

	// Sanitize filename and add UUID prefix for uniqueness
	safeFilename := sanitizeFilename(info.Name)
	info.Path = fmt.Sprintf("%s_%s", info.ID.String()[:8], safeFilename)
	filePath := filepath.Join(a.basePath, info.Path)

	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(filePath) // Cleanup on error
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	info.Size = size

	if err := a.saveMetadata(&info); err != nil {
		os.Remove(filePath) // Cleanup on error
		return nil, err
	}
	return &info, nil
}

// Open retrieves an archived export by its ID
func (a *LocalArchive) Open(ctx context.Context, id uuid.UUID) (io.ReadCloser, *ArchiveInfo, error) {
	info, err := a.getInfo(id)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filepath.Join(a.basePath, info.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, info, nil
}

// List returns all archived exports, newest first
func (a *LocalArchive) List(ctx context.Context) ([]*ArchiveInfo, error) {
	metaDir := filepath.Join(a.basePath, ".meta")
	if _, err := os.Stat(metaDir); os.IsNotExist(err) {
		return []*ArchiveInfo{}, nil
	}

	entries, err := os.ReadDir(metaDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}

	files := make([]*ArchiveInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		info, err := a.getInfo(id)
		if err != nil {
			continue
		}
		files = append(files, info)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ArchivedAt.After(files[j].ArchivedAt)
	})
	return files, nil
}

// Delete removes an archived export by its ID
func (a *LocalArchive) Delete(ctx context.Context, id uuid.UUID) error {
	info, err := a.getInfo(id)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(a.basePath, info.Path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	os.Remove(a.metaPath(id))
	return nil
}

func (a *LocalArchive) getInfo(id uuid.UUID) (*ArchiveInfo, error) {
	data, err := os.ReadFile(a.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive entry not found: %s", id)
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var info ArchiveInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &info, nil
}

func (a *LocalArchive) metaPath(id uuid.UUID) string {
	return filepath.Join(a.basePath, ".meta", id.String()+".json")
}

// saveMetadata saves archive metadata to a JSON file
func (a *LocalArchive) saveMetadata(info *ArchiveInfo) error {
	metaDir := filepath.Join(a.basePath, ".meta")
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(a.metaPath(info.ID), data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// sanitizeFilename removes unsafe characters from filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(name)
}
