package domain

import (
	"path/filepath"
	"sort"
	"strings"
)

// CandidateFile describes one file announced by a torrent, as seen by the
// selection policy. Index refers to the engine's file ordering.
type CandidateFile struct {
	Index  int
	Path   string
	Length int64
}

// MinPreferredFileSize is the size below which a video file is only selected
// when nothing larger survives the filters.
const MinPreferredFileSize int64 = 10 << 20

var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mkv": {}, ".avi": {}, ".mov": {}, ".wmv": {},
	".flv": {}, ".webm": {}, ".m4v": {}, ".ts": {}, ".mts": {}, ".m2ts": {},
}

var excludedNameParts = []string{
	"sample", "trailer", "preview", "extra", "bonus", "behind", "making",
}

// IsVideoPath reports whether the path carries a recognised video extension.
func IsVideoPath(path string) bool {
	_, ok := videoExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// isExcludedName reports whether the basename matches a sample/extras pattern.
func isExcludedName(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, part := range excludedNameParts {
		if strings.Contains(base, part) {
			return true
		}
	}
	return false
}

// SelectVideoFile applies the file selection policy:
// filter to video extensions, drop sample/extras names, prefer files of at
// least MinPreferredFileSize (falling back to the remaining candidates when
// none qualify), then pick the largest. Returns ErrNoMedia when nothing
// survives the filters.
func SelectVideoFile(files []CandidateFile) (CandidateFile, error) {
	candidates := make([]CandidateFile, 0, len(files))
	for _, f := range files {
		if !IsVideoPath(f.Path) {
			continue
		}
		if isExcludedName(f.Path) {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return CandidateFile{}, ErrNoMedia
	}

	preferred := candidates[:0:0]
	for _, f := range candidates {
		if f.Length >= MinPreferredFileSize {
			preferred = append(preferred, f)
		}
	}
	if len(preferred) == 0 {
		preferred = candidates
	}

	sort.SliceStable(preferred, func(i, j int) bool {
		return preferred[i].Length > preferred[j].Length
	})
	return preferred[0], nil
}
