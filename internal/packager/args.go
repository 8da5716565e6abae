package packager

import (
	"strings"
)

type convertMode int

const (
	modeStreamCopy convertMode = iota
	modeReencode
)

func (m convertMode) String() string {
	if m == modeReencode {
		return "reencode"
	}
	return "copy"
}

const (
	segmentDurationSeconds = 10
	playlistWindowSegments = 6
	playlistName           = "playlist.m3u8"
	segmentPattern         = "segment%03d.ts"
)

// buildHLSArgs constructs the FFmpeg argument list for one packager run.
// Pure function; the output paths are relative because the process runs with
// the stream's HLS directory as its working directory.
func buildHLSArgs(inputPath string, mode convertMode) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-progress", "pipe:1",
		"-fflags", "+genpts",
		"-err_detect", "ignore_err",
		"-avoid_negative_ts", "make_zero",
		"-i", inputPath,
	}

	if mode == modeStreamCopy {
		args = append(args, "-c", "copy")
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-preset", "ultrafast",
			"-crf", "28",
			"-c:a", "aac",
			"-b:a", "128k",
			"-ac", "2",
		)
	}

	if strings.HasSuffix(strings.ToLower(inputPath), ".mp4") {
		args = append(args, "-movflags", "+faststart")
	}

	args = append(args,
		"-f", "hls",
		"-hls_time", "10",
		"-hls_list_size", "6",
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_filename", segmentPattern,
		playlistName,
	)
	return args
}
