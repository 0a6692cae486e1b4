package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FileSystemArchive saves raw page snapshots to disk so a judgment can be
// re-parsed after extractor changes without another portal fetch.
type FileSystemArchive struct {
	root   string
	logger *zap.Logger
}

// NewFileSystemArchive returns an archive rooted at dir.
func NewFileSystemArchive(root string, logger *zap.Logger) (*FileSystemArchive, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", root, err)
	}
	return &FileSystemArchive{root: root, logger: logger}, nil
}

type archiveMeta struct {
	Reference  string    `json:"reference"`
	URL        string    `json:"url"`
	FinalURL   string    `json:"final_url"`
	StatusCode int       `json:"status_code"`
	Rendered   bool      `json:"rendered"`
	SavedAt    time.Time `json:"saved_at"`
}

// SavePage writes the HTML snapshot plus a metadata sidecar and returns the
// snapshot path.
func (a *FileSystemArchive) SavePage(ctx context.Context, reference string, page RawPage) (string, error) {
	if len(page.Body) == 0 {
		return "", fmt.Errorf("empty page body")
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}

	target := filepath.Join(a.root, archiveFileName(reference)+".html")
	if err := os.WriteFile(target, page.Body, 0o600); err != nil {
		return "", fmt.Errorf("writing HTML to %s: %w", target, err)
	}

	meta := archiveMeta{
		Reference:  reference,
		URL:        page.URL,
		FinalURL:   page.FinalURL,
		StatusCode: page.StatusCode,
		Rendered:   page.Rendered,
		SavedAt:    time.Now().UTC(),
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal meta: %w", err)
	}
	metaPath := strings.TrimSuffix(target, ".html") + ".json"
	if err := os.WriteFile(metaPath, payload, 0o600); err != nil {
		return "", fmt.Errorf("write metadata %s: %w", metaPath, err)
	}

	a.logger.Debug("Archived page", zap.String("reference", reference), zap.String("path", target))
	return target, nil
}

// archiveFileName flattens a reference like "[2026] SGHC 21" into a safe
// file name.
func archiveFileName(reference string) string {
	r := strings.NewReplacer("[", "", "]", "", " ", "_", "/", "_", ":", "_", "?", "_")
	name := r.Replace(reference)
	if name == "" {
		name = "unnamed"
	}
	return name
}
