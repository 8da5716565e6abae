package packager

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"testing"
	"time"

	"streamgate/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBuildHLSArgsStreamCopy(t *testing.T) {
	args := buildHLSArgs("/data/streams/ab12cd34/movie.mkv", modeStreamCopy)

	mustContainSeq(t, args, "-c", "copy")
	mustContainSeq(t, args, "-progress", "pipe:1")
	mustContainSeq(t, args, "-fflags", "+genpts")
	mustContainSeq(t, args, "-avoid_negative_ts", "make_zero")
	mustContainSeq(t, args, "-hls_time", "10")
	mustContainSeq(t, args, "-hls_list_size", "6")
	mustContainSeq(t, args, "-hls_flags", "delete_segments+append_list")
	mustContainSeq(t, args, "-hls_segment_filename", "segment%03d.ts")

	if args[len(args)-1] != "playlist.m3u8" {
		t.Fatalf("last arg = %q, want playlist.m3u8", args[len(args)-1])
	}
	if slices.Contains(args, "-movflags") {
		t.Fatal("faststart should only apply to mp4 inputs")
	}
	if slices.Contains(args, "libx264") {
		t.Fatal("stream copy must not carry encoder args")
	}
}

func TestBuildHLSArgsReencode(t *testing.T) {
	args := buildHLSArgs("/data/streams/ab12cd34/movie.avi", modeReencode)

	mustContainSeq(t, args, "-c:v", "libx264")
	mustContainSeq(t, args, "-preset", "ultrafast")
	mustContainSeq(t, args, "-crf", "28")
	mustContainSeq(t, args, "-c:a", "aac")
	if slices.Contains(args, "copy") {
		t.Fatal("re-encode must not stream-copy")
	}
}

func TestBuildHLSArgsMP4Faststart(t *testing.T) {
	args := buildHLSArgs("/data/streams/ab12cd34/Movie.MP4", modeStreamCopy)
	mustContainSeq(t, args, "-movflags", "+faststart")
}

func mustContainSeq(t *testing.T, args []string, flag, value string) {
	t.Helper()
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return
		}
	}
	t.Fatalf("args missing %q %q: %v", flag, value, args)
}

func TestClassifyExitError(t *testing.T) {
	exitErr := errors.New("exit status 1")

	tests := []struct {
		name   string
		stderr string
		want   error // nil means a plain fatal error
	}{
		{"InvalidData", "movie.mkv: Invalid data found when processing input", domain.ErrFileNotReady},
		{"ErrorOpeningInput", "Error opening input file movie.mkv", domain.ErrFileNotReady},
		{"CodecMismatch", "Could not find codec parameters for stream 0", domain.ErrCodec},
		{"FormatMismatch", "could not write header: unsupported format", domain.ErrCodec},
		{"Fatal", "Conversion failed! out of memory", nil},
		{"EmptyStderr", "", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyExitError(exitErr, tc.stderr)
			if got == nil {
				t.Fatal("classify returned nil for a failed run")
			}
			if tc.want != nil {
				if !errors.Is(got, tc.want) {
					t.Fatalf("classify(%q) = %v, want %v", tc.stderr, got, tc.want)
				}
				return
			}
			if errors.Is(got, domain.ErrFileNotReady) || errors.Is(got, domain.ErrCodec) {
				t.Fatalf("classify(%q) = %v, want unclassified fatal", tc.stderr, got)
			}
		})
	}
}

func TestClassifyExitErrorTruncatesStderr(t *testing.T) {
	long := "fatal: " + string(make([]byte, 2000))
	got := classifyExitError(errors.New("exit status 1"), long)
	if len(got.Error()) > 400 {
		t.Fatalf("error message not truncated: %d bytes", len(got.Error()))
	}
}

func TestParseProgress(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	proc := &ffmpegProcess{done: make(chan struct{})}

	parsed := make(chan struct{})
	go func() {
		proc.parseProgress(r)
		close(parsed)
	}()

	fmt.Fprint(w, "frame=42\nfps=30.00\nout_time_us=12500000\nprogress=continue\n")
	w.Close()

	select {
	case <-parsed:
	case <-time.After(time.Second):
		t.Fatal("parser did not finish")
	}

	if got := proc.progressSeconds(); got != 12.5 {
		t.Fatalf("progressSeconds = %v, want 12.5", got)
	}
	if got := proc.framesProcessed(); got != 42 {
		t.Fatalf("framesProcessed = %d, want 42", got)
	}
}

func TestParseProgressIgnoresGarbage(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	proc := &ffmpegProcess{done: make(chan struct{})}

	parsed := make(chan struct{})
	go func() {
		proc.parseProgress(r)
		close(parsed)
	}()

	fmt.Fprint(w, "out_time_us=notanumber\nframe=\nrandom line\n")
	w.Close()
	<-parsed

	if proc.progressSeconds() != 0 || proc.framesProcessed() != 0 {
		t.Fatal("garbage input should leave counters at zero")
	}
}

func TestPlayableYet(t *testing.T) {
	p := &Packager{}

	proc := &ffmpegProcess{}
	if p.playableYet(proc, 0) {
		t.Fatal("no output yet, must not be playable")
	}

	proc.frames = 1
	if !p.playableYet(proc, 0) {
		t.Fatal("unknown duration with frames processed must be playable")
	}

	known := &ffmpegProcess{progressUs: 5_000_000} // 5 s of a 100 s source = 5%
	if p.playableYet(known, 100) {
		t.Fatal("5% of known duration must not be playable yet")
	}
	known.progressUs = 10_000_000 // 10%
	if !p.playableYet(known, 100) {
		t.Fatal("10% of known duration must be playable")
	}
}

func TestConvertRejectsMissingInput(t *testing.T) {
	p := New("ffmpeg", sinkFunc(func(domain.StreamID, domain.StreamStatus, string) error { return nil }), discardLogger())

	err := p.Convert(t.Context(), Request{
		StreamID:  "s1",
		InputPath: "/nonexistent/movie.mkv",
		OutputDir: t.TempDir(),
	})
	if !errors.Is(err, domain.ErrFileNotReady) {
		t.Fatalf("err = %v, want ErrFileNotReady", err)
	}
}

func TestConvertRejectsEmptyInput(t *testing.T) {
	dir := t.TempDir()
	input := dir + "/movie.mkv"
	if err := os.WriteFile(input, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	p := New("ffmpeg", sinkFunc(func(domain.StreamID, domain.StreamStatus, string) error { return nil }), discardLogger())
	err := p.Convert(t.Context(), Request{StreamID: "s1", InputPath: input, OutputDir: dir})
	if !errors.Is(err, domain.ErrFileNotReady) {
		t.Fatalf("err = %v, want ErrFileNotReady", err)
	}
}

func TestStopUnknownStreamIsNoop(t *testing.T) {
	p := New("ffmpeg", sinkFunc(func(domain.StreamID, domain.StreamStatus, string) error { return nil }), discardLogger())
	p.Stop("never-started")
	if got := p.Active(); len(got) != 0 {
		t.Fatalf("active = %v", got)
	}
}

type sinkFunc func(domain.StreamID, domain.StreamStatus, string) error

func (f sinkFunc) UpdateStatus(id domain.StreamID, s domain.StreamStatus, msg string) error {
	return f(id, s, msg)
}
