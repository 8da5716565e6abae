// Package paths computes and prepares the per-stream on-disk layout:
// <root>/streams/<hash> for the torrent download tree and <root>/hls/<hash>
// for the packager output. The hash is the first 8 hex digits of the MD5 of
// the stream ID — short, filesystem-safe, and collision-resistant within one
// process; the registry key remains the full UUID.
package paths

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"streamgate/internal/domain"
)

const PlaylistName = "playlist.m3u8"

type Service struct {
	root string
}

func New(root string) *Service {
	cleaned := filepath.Clean(root)
	if abs, err := filepath.Abs(cleaned); err == nil {
		cleaned = abs
	}
	return &Service{root: cleaned}
}

func (s *Service) Root() string {
	return s.root
}

func (s *Service) StreamDir(id domain.StreamID) string {
	return filepath.Join(s.root, "streams", shortHash(id))
}

func (s *Service) HLSDir(id domain.StreamID) string {
	return filepath.Join(s.root, "hls", shortHash(id))
}

func (s *Service) PlaylistPath(id domain.StreamID) string {
	return filepath.Join(s.HLSDir(id), PlaylistName)
}

func (s *Service) SegmentPath(id domain.StreamID, n int) string {
	return filepath.Join(s.HLSDir(id), fmt.Sprintf("segment%03d.ts", n))
}

// EnsureDir creates the directory (with ancestors, mode 0o755) and proves it
// is writable by creating and deleting a probe file. A failed probe surfaces
// as ErrIO here instead of as an opaque packager error much later.
func (s *Service) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", domain.ErrIO, dir, err)
	}
	probe := filepath.Join(dir, ".write-probe")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("%w: directory %s is not writable: %v", domain.ErrIO, dir, err)
	}
	f.Close()
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("%w: cannot remove probe in %s: %v", domain.ErrIO, dir, err)
	}
	return nil
}

// EnsureStreamDirs prepares both per-stream directories.
func (s *Service) EnsureStreamDirs(id domain.StreamID) error {
	if err := s.EnsureDir(s.StreamDir(id)); err != nil {
		return err
	}
	return s.EnsureDir(s.HLSDir(id))
}

// RemoveStreamDirs deletes both per-stream directories. Missing directories
// are not an error, so the call is idempotent.
func (s *Service) RemoveStreamDirs(id domain.StreamID) error {
	var firstErr error
	for _, dir := range []string{s.StreamDir(id), s.HLSDir(id)} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: remove %s: %v", domain.ErrIO, dir, err)
		}
	}
	return firstErr
}

func shortHash(id domain.StreamID) string {
	sum := md5.Sum([]byte(id))
	return hex.EncodeToString(sum[:])[:8]
}
