// Package storage persists generated artifacts under a public directory
// and issues the URLs handed back to callers. The scheduler components
// never serve files themselves; they hand produced artifacts to this
// collaborator.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mirageproxy/mirage/internal/domain"
	"github.com/mirageproxy/mirage/internal/engine"
)

// URLPathPrefix is the public path under which stored artifacts are
// served by the HTTP layer.
const URLPathPrefix = "/static/generated"

// ArtifactStore saves artifact files with collision-free names and
// issues absolute URLs for them.
type ArtifactStore struct {
	dir     string
	baseURL string
	logger  *slog.Logger
}

// New creates an ArtifactStore rooted at dir, issuing URLs relative to
// baseURL. The directory is created if missing.
func New(dir, baseURL string, logger *slog.Logger) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}
	return &ArtifactStore{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}, nil
}

// Dir returns the directory artifacts are stored under.
func (s *ArtifactStore) Dir() string {
	return s.dir
}

// SaveFile copies the file at path into the store under a generated
// name and returns its public URL. The source file is removed on
// success; engine output is treated as a temp file owned by the store
// once saved.
func (s *ArtifactStore) SaveFile(path, prefix string) (string, error) {
	ext := filepath.Ext(path)
	if ext == "" {
		ext = ".bin"
	}
	name := fmt.Sprintf("%s_%s%s", prefix, uuid.New().String(), ext)
	dest := filepath.Join(s.dir, name)

	if err := copyFile(path, dest); err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove artifact temp file", "path", path, "error", err)
	}

	publicURL, err := url.JoinPath(s.baseURL, URLPathPrefix, name)
	if err != nil {
		return "", fmt.Errorf("failed to build artifact URL: %w", err)
	}

	s.logger.Debug("stored artifact", "name", name)
	return publicURL, nil
}

// Publish stores an engine artifact (and its optional secondary file)
// and returns the task result exposed to callers. The artifact prefix
// follows its media type.
func (s *ArtifactStore) Publish(_ context.Context, artifact *engine.Artifact) (*domain.TaskResult, error) {
	prefix := "img"
	if strings.HasPrefix(artifact.MIMEType, "video/") {
		prefix = "vid"
	}

	primaryURL, err := s.SaveFile(artifact.Path, prefix)
	if err != nil {
		return nil, err
	}

	result := &domain.TaskResult{URL: primaryURL}
	if artifact.LastFramePath != "" {
		lastFrameURL, frameErr := s.SaveFile(artifact.LastFramePath, "frame")
		if frameErr != nil {
			// The primary artifact is already durable; losing the
			// secondary frame is not worth failing the task over.
			s.logger.Warn("failed to store last-frame artifact", "error", frameErr)
		} else {
			result.LastFrameURL = lastFrameURL
		}
	}

	return result, nil
}

// Cleanup removes stored artifacts older than maxAge and returns the
// deleted file names.
func (s *ArtifactStore) Cleanup(maxAge time.Duration) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var deleted []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if removeErr := os.Remove(filepath.Join(s.dir, entry.Name())); removeErr != nil {
			s.logger.Warn("failed to delete old artifact", "name", entry.Name(), "error", removeErr)
			continue
		}
		deleted = append(deleted, entry.Name())
	}

	if len(deleted) > 0 {
		s.logger.Info("cleaned up old artifacts", "count", len(deleted))
	}
	return deleted, nil
}

// MIMETypeForExt resolves a best-effort media type for a file extension.
func MIMETypeForExt(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	return out.Close()
}
