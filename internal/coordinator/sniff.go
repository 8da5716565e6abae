package coordinator

import (
	"bytes"
	"io"
	"os"
)

// sniffContainer reads the head of the file and matches it against known
// container signatures. A miss is only a warning upstream: FFmpeg probes far
// more formats than this list, and the file head may simply not be
// downloaded yet.
func sniffContainer(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	head := make([]byte, 1024)
	n, err := io.ReadFull(f, head)
	if err != nil && n < 12 {
		return "", false
	}
	head = head[:n]

	switch {
	case len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")):
		return "mp4", true
	case bytes.HasPrefix(head, []byte{0x1a, 0x45, 0xdf, 0xa3}):
		return "matroska", true
	case bytes.HasPrefix(head, []byte("RIFF")):
		return "avi", true
	case bytes.HasPrefix(head, []byte{0x46, 0x4c, 0x56, 0x01}):
		return "flv", true
	}
	return "", false
}
