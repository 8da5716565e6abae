package coordinator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"streamgate/internal/domain"
)

// resolveInputPath locates the selected video file on disk. Torrent engines
// differ in whether they materialise the full torrent subtree or drop the
// file straight into the data directory, so the lookup cascades: exact
// subpath, flat basename, then a recursive scan for the basename or, failing
// that, the largest file with a video extension.
func (c *Coordinator) resolveInputPath(id domain.StreamID) (string, error) {
	streamDir := c.paths.StreamDir(id)

	enginePath, ok := c.torrents.SelectedFilePath(id)
	if !ok {
		return "", fmt.Errorf("%w: no file selected yet", domain.ErrFileNotReady)
	}

	direct := filepath.Join(streamDir, filepath.FromSlash(enginePath))
	if fileExists(direct) {
		return direct, nil
	}

	base := filepath.Base(filepath.FromSlash(enginePath))
	flat := filepath.Join(streamDir, base)
	if fileExists(flat) {
		return flat, nil
	}

	var byName string
	var largestVideo string
	var largestSize int64
	_ = filepath.WalkDir(streamDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if d.Name() == base {
			byName = path
			return filepath.SkipAll
		}
		if domain.IsVideoPath(path) {
			if info, ierr := d.Info(); ierr == nil && info.Size() > largestSize {
				largestVideo = path
				largestSize = info.Size()
			}
		}
		return nil
	})
	if byName != "" {
		return byName, nil
	}
	if largestVideo != "" {
		return largestVideo, nil
	}
	return "", fmt.Errorf("%w: %s not found under %s", domain.ErrFileNotReady, base, streamDir)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
