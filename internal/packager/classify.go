package packager

import (
	"fmt"
	"strings"

	"streamgate/internal/domain"
)

// classifyExitError maps an FFmpeg failure to a domain error kind from its
// stderr text. The substring heuristics are intentionally concentrated here:
// they are the fragile part of the packager and the first place to revisit
// when a new FFmpeg release rewords its diagnostics.
// TODO: map known FFmpeg exit signatures (AVERROR codes echoed in stderr)
// instead of substring matching.
func classifyExitError(exitErr error, stderr string) error {
	lower := strings.ToLower(stderr)

	// The input exists but is not yet decodable — the head of the file has
	// not fully arrived. Recoverable: the coordinator waits and retries.
	if strings.Contains(lower, "invalid data") || strings.Contains(lower, "error opening input") {
		return fmt.Errorf("%w: %s", domain.ErrFileNotReady, firstLine(stderr))
	}

	// Stream copy hit a container or codec the HLS muxer cannot carry
	// verbatim. Recoverable once, by re-encoding.
	if strings.Contains(lower, "codec") || strings.Contains(lower, "format") {
		return fmt.Errorf("%w: %s", domain.ErrCodec, firstLine(stderr))
	}

	if stderr != "" {
		return fmt.Errorf("ffmpeg failed: %s", firstLine(stderr))
	}
	return fmt.Errorf("ffmpeg failed: %v", exitErr)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
