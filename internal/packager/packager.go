// Package packager supervises FFmpeg runs that turn a (possibly still
// downloading) video file into an HLS playlist with a rolling segment window.
// It tries a cheap stream copy first and falls back to a single re-encode
// attempt when the container defeats the copy.
package packager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
)

// StatusSink is the registry surface the packager drives: converting on
// start, ready as soon as enough output is committed for playback.
type StatusSink interface {
	UpdateStatus(id domain.StreamID, status domain.StreamStatus, errMsg string) error
}

// readyProgressPercent is the packager progress at which a stream with known
// duration is declared playable. With unknown duration any processed frame
// counts, since the first flushed segment is already servable.
const readyProgressPercent = 10.0

type Request struct {
	StreamID  domain.StreamID
	InputPath string
	OutputDir string
	// DurationSeconds of the source when known; 0 means unknown, which is
	// the common case for a partially downloaded file.
	DurationSeconds float64
	// ForceReencode runs the re-encode pipeline as the only mode, with no
	// stream-copy attempt and no fallback.
	ForceReencode bool
}

type Packager struct {
	ffmpegPath string
	registry   StatusSink
	logger     *slog.Logger

	mu   sync.Mutex
	jobs map[domain.StreamID]*ffmpegProcess
}

func New(ffmpegPath string, sink StatusSink, logger *slog.Logger) *Packager {
	return &Packager{
		ffmpegPath: ffmpegPath,
		registry:   sink,
		logger:     logger,
		jobs:       make(map[domain.StreamID]*ffmpegProcess),
	}
}

// Convert runs the packager for one stream and blocks until the input is
// fully packaged or the run fails. Success means the playlist and final
// segment are flushed. Recoverable failures come back as ErrFileNotReady
// (retry later) — codec failures are consumed internally by the one
// permitted fallback.
func (p *Packager) Convert(ctx context.Context, req Request) error {
	info, err := os.Stat(req.InputPath)
	if err != nil {
		return fmt.Errorf("%w: input %s: %v", domain.ErrFileNotReady, req.InputPath, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: input %s is empty", domain.ErrFileNotReady, req.InputPath)
	}

	if err := p.registry.UpdateStatus(req.StreamID, domain.StatusConverting, ""); err != nil {
		return err
	}

	mode := modeStreamCopy
	if req.ForceReencode {
		mode = modeReencode
	}

	err = p.runOnce(ctx, req, mode)
	if err != nil && !req.ForceReencode && errors.Is(err, domain.ErrCodec) {
		p.logger.Warn("stream copy failed, falling back to re-encode",
			slog.String("streamId", string(req.StreamID)),
			slog.String("error", err.Error()),
		)
		metrics.PackagerFallbacksTotal.Inc()
		err = p.runOnce(ctx, req, modeReencode)
	}
	if err != nil && !errors.Is(err, domain.ErrCancelled) {
		metrics.PackagerFailuresTotal.Inc()
	}
	return err
}

func (p *Packager) runOnce(ctx context.Context, req Request, mode convertMode) error {
	proc := newFFmpegProcess(ctx, p.ffmpegPath, buildHLSArgs(req.InputPath, mode), req.OutputDir)

	p.mu.Lock()
	if _, exists := p.jobs[req.StreamID]; exists {
		p.mu.Unlock()
		return fmt.Errorf("stream %s already has a packager job", req.StreamID)
	}
	p.jobs[req.StreamID] = proc
	p.mu.Unlock()
	defer p.removeJob(req.StreamID, proc)

	if err := proc.start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	metrics.PackagerStartsTotal.Inc()
	metrics.PackagerActiveJobs.Inc()
	defer metrics.PackagerActiveJobs.Dec()

	p.logger.Info("packager started",
		slog.String("streamId", string(req.StreamID)),
		slog.String("mode", mode.String()),
		slog.String("input", req.InputPath),
	)

	ready := false
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

monitor:
	for {
		select {
		case <-proc.doneCh():
			break monitor
		case <-ticker.C:
			if ready {
				continue
			}
			if p.playableYet(proc, req.DurationSeconds) {
				ready = true
				if err := p.registry.UpdateStatus(req.StreamID, domain.StatusReady, ""); err != nil {
					p.logger.Error("failed to mark stream ready",
						slog.String("streamId", string(req.StreamID)),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}

	waitErr := proc.wait()
	if waitErr == nil {
		if !ready {
			// Short inputs can finish before the first ticker fires.
			if err := p.registry.UpdateStatus(req.StreamID, domain.StatusReady, ""); err != nil {
				return err
			}
		}
		p.logger.Info("packager completed", slog.String("streamId", string(req.StreamID)))
		return nil
	}

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
	}
	return classifyExitError(waitErr, proc.stderr())
}

// playableYet applies the early-start rule: declare the stream ready as soon
// as the packager has committed enough output, not when transcoding finishes.
func (p *Packager) playableYet(proc *ffmpegProcess, durationSeconds float64) bool {
	if durationSeconds > 0 {
		pct := proc.progressSeconds() / durationSeconds * 100
		return pct >= readyProgressPercent
	}
	return proc.framesProcessed() > 0 || proc.progressSeconds() > 0
}

// Stop terminates the stream's FFmpeg run if one is active. Idempotent; the
// running Convert call observes the exit and returns.
func (p *Packager) Stop(id domain.StreamID) {
	p.mu.Lock()
	proc, ok := p.jobs[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	proc.stop()
	p.logger.Info("packager stopped", slog.String("streamId", string(id)))
}

// Active lists streams with a running packager job.
func (p *Packager) Active() []domain.StreamID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.StreamID, 0, len(p.jobs))
	for id := range p.jobs {
		out = append(out, id)
	}
	return out
}

func (p *Packager) removeJob(id domain.StreamID, proc *ffmpegProcess) {
	p.mu.Lock()
	if p.jobs[id] == proc {
		delete(p.jobs, id)
	}
	p.mu.Unlock()
}
