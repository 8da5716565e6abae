package apihttp

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"streamgate/internal/domain"
)

const (
	contentTypePlaylist = "application/vnd.apple.mpegurl"
	contentTypeSegment  = "video/mp2t"
)

// handleHLSFile serves any file inside the stream's HLS directory with
// byte-range support. Segments are immutable (content-addressed by stream and
// index) and cache forever; playlists roll and must not be cached.
func (s *Server) handleHLSFile(w http.ResponseWriter, r *http.Request) {
	stream, ok := s.lookupStream(w, r)
	if !ok {
		return
	}
	if stream.Status == domain.StatusError {
		writeError(w, http.StatusNotFound, "not_found", "stream failed: "+stream.Error)
		return
	}

	path, err := resolveHLSFilePath(s.paths.HLSDir(stream.ID), r.PathValue("file"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid file path")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}

	_ = s.index.KeepAlive(stream.ID)

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".m3u8":
		w.Header().Set("Content-Type", contentTypePlaylist)
		w.Header().Set("Cache-Control", "no-cache")
	case ".ts":
		w.Header().Set("Content-Type", contentTypeSegment)
		w.Header().Set("Cache-Control", "public, max-age=31536000")
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Accept-Ranges", "bytes")

	size := info.Size()
	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, f)
		return
	}

	start, end, err := parseByteRange(rangeHeader, size)
	if err != nil {
		if errors.Is(err, errRangeNotSatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "invalid_range", "range not satisfiable")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_range", "malformed range header")
		return
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "seek failed")
		return
	}

	chunk := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", chunk))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = io.CopyN(w, f, chunk)
}

// resolveHLSFilePath joins the requested name onto the HLS directory and
// rejects anything that escapes it.
func resolveHLSFilePath(hlsDir, name string) (string, error) {
	base := filepath.Clean(hlsDir)
	joined := filepath.Clean(filepath.Join(base, filepath.FromSlash(name)))
	if joined == base || !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", errors.New("path escapes hls dir")
	}
	return joined, nil
}
