package packager

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

// ffmpegProcess wraps an exec.Cmd for FFmpeg with progress tracking read from
// the -progress pipe:1 key=value stream on stdout.
type ffmpegProcess struct {
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	progressUs int64 // atomic: FFmpeg out_time_us
	frames     int64 // atomic: FFmpeg frame counter
	done       chan struct{}
	err        error
	stderrBuf  bytes.Buffer
}

// newFFmpegProcess creates the process without starting it. The command runs
// with dir as its working directory so the HLS muxer's relative segment and
// playlist names land in the stream's output directory.
func newFFmpegProcess(ctx context.Context, ffmpegPath string, args []string, dir string) *ffmpegProcess {
	ctx2, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx2, ffmpegPath, args...)
	cmd.Dir = dir
	// FFmpeg flushes the current segment on SIGTERM; SIGKILL would leave a
	// torn .ts behind. The wait delay covers a wedged process.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second
	return &ffmpegProcess{
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (f *ffmpegProcess) start() error {
	progressR, progressW, pipeErr := os.Pipe()
	if pipeErr != nil {
		f.cmd.Stdout = io.Discard
	} else {
		f.cmd.Stdout = progressW
	}
	f.cmd.Stderr = &f.stderrBuf

	if err := f.cmd.Start(); err != nil {
		if progressR != nil {
			progressR.Close()
		}
		if progressW != nil {
			progressW.Close()
		}
		f.cancel()
		return err
	}

	if progressW != nil {
		progressW.Close()
	}
	if progressR != nil {
		go f.parseProgress(progressR)
	}

	go func() {
		f.err = f.cmd.Wait()
		f.cancel()
		close(f.done)
	}()
	return nil
}

// stop asks FFmpeg to terminate. Safe to call multiple times and after exit.
func (f *ffmpegProcess) stop() {
	f.cancel()
}

func (f *ffmpegProcess) wait() error {
	<-f.done
	return f.err
}

func (f *ffmpegProcess) doneCh() <-chan struct{} {
	return f.done
}

// progressSeconds returns the output timestamp FFmpeg has reached.
func (f *ffmpegProcess) progressSeconds() float64 {
	us := atomic.LoadInt64(&f.progressUs)
	if us <= 0 {
		return 0
	}
	return float64(us) / 1e6
}

// framesProcessed returns the number of video frames written so far.
func (f *ffmpegProcess) framesProcessed() int64 {
	return atomic.LoadInt64(&f.frames)
}

func (f *ffmpegProcess) stderr() string {
	return strings.TrimSpace(f.stderrBuf.String())
}

func (f *ffmpegProcess) parseProgress(r *os.File) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "out_time_us="):
			if us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_us="), 10, 64); err == nil {
				atomic.StoreInt64(&f.progressUs, us)
			}
		case strings.HasPrefix(line, "frame="):
			if n, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "frame=")), 10, 64); err == nil {
				atomic.StoreInt64(&f.frames, n)
			}
		}
	}
}
