// Package session implements the per-job on-disk scratch directory and
// artifact store. A session lives under <root>/<random>-<cookie>/ and holds
// an artifacts/ directory; the booted guest uploads its logs and other
// files there via the HTTP surface.
package session

import (
	"archive/tar"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// TestSession is the scratch directory of a single job.
type TestSession struct {
	Cookie  string
	Dirname string

	logger arbor.ILogger
}

// New creates a fresh session directory <root>/<random>-<cookie>/artifacts/.
// The tree is made traversable by other local users because tests may run
// under a different uid and fetch the archive.
func New(root, cookie string, logger arbor.ILogger) (*TestSession, error) {
	if root == "" {
		return nil, fmt.Errorf("session root can not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create session root: %w", err)
	}

	dirname := filepath.Join(root, uuid.NewString()[:8]+"-"+cookie)
	if err := os.Mkdir(dirname, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := os.Mkdir(filepath.Join(dirname, "artifacts"), 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}

	s := &TestSession{Cookie: cookie, Dirname: dirname, logger: logger}
	s.logger.Info().Str("session", cookie).Str("dir", dirname).Msg("Starting session")
	return s, nil
}

func (s *TestSession) artifactsPath(name string) string {
	return filepath.Join(s.Dirname, "artifacts", name)
}

// AddArtifact writes an artifact file. Names may not contain path
// separators.
func (s *TestSession) AddArtifact(name string, data []byte) error {
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("artifact name may not contain path separators: %q", name)
	}
	if err := os.WriteFile(s.artifactsPath(name), data, 0o644); err != nil {
		return fmt.Errorf("write artifact %s: %w", name, err)
	}
	return nil
}

// Artifact returns the content of an artifact.
func (s *TestSession) Artifact(name string) ([]byte, error) {
	data, err := os.ReadFile(s.artifactsPath(name))
	if err != nil {
		return nil, fmt.Errorf("artifact %q does not exist", name)
	}
	return data, nil
}

// Artifacts lists all artifact names, sorted.
func (s *TestSession) Artifacts() []string {
	entries, err := os.ReadDir(s.artifactsPath(""))
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// ArtifactsArchive returns the selected artifacts as a tar.bz2. A nil
// selection archives everything.
func (s *TestSession) ArtifactsArchive(selection []string) ([]byte, error) {
	if selection == nil {
		selection = s.Artifacts()
	}

	var buf bytes.Buffer
	zw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		return nil, fmt.Errorf("bzip2 writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	for _, name := range selection {
		data, err := s.Artifact(name)
		if err != nil {
			s.logger.Debug().Str("artifact", name).Msg("Artifact not here, skipped")
			continue
		}
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("tar header %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("tar write %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RemoveArtifacts best-effort deletes every artifact; partial failures are
// logged, never fatal.
func (s *TestSession) RemoveArtifacts() {
	for _, name := range s.Artifacts() {
		if err := os.Remove(s.artifactsPath(name)); err != nil {
			s.logger.Warn().Str("artifact", name).Err(err).Msg("Failed to remove artifact")
		}
	}
	if err := os.Remove(s.artifactsPath("")); err != nil {
		s.logger.Warn().Str("session", s.Cookie).Err(err).Msg("Failed to remove artifacts dir")
	}
}

// Remove deletes the artifacts and the session directory, warning if
// unexpected files remain.
func (s *TestSession) Remove() {
	s.logger.Debug().Str("session", s.Cookie).Msg("Removing session")

	s.RemoveArtifacts()

	remaining, err := os.ReadDir(s.Dirname)
	if err == nil && len(remaining) > 0 {
		names := make([]string, 0, len(remaining))
		for _, e := range remaining {
			names = append(names, e.Name())
		}
		s.logger.Warn().Str("session", s.Cookie).Strs("files", names).Msg("Remaining files in session dir")
		return
	}
	if err := os.Remove(s.Dirname); err != nil {
		s.logger.Warn().Str("session", s.Cookie).Err(err).Msg("Failed to remove session dir")
	}
}
