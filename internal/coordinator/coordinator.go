// Package coordinator orchestrates the life of a stream: registry entry,
// directory layout, torrent acquisition, the readiness wait, the packager
// run with its retry loop, and teardown. It is the only component that calls
// across the others, always in a fixed order, so cleanup stays reasoned.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
	"streamgate/internal/packager"
)

type TorrentService interface {
	Start(ctx context.Context, id domain.StreamID, magnetURI string) error
	Cleanup(id domain.StreamID)
	Stats(id domain.StreamID) (domain.SwarmStats, bool)
	SelectedFilePath(id domain.StreamID) (string, bool)
}

type PackagerService interface {
	Convert(ctx context.Context, req packager.Request) error
	Stop(id domain.StreamID)
	Active() []domain.StreamID
}

type StreamRegistry interface {
	Create(magnet string) domain.Stream
	Get(id domain.StreamID) (domain.Stream, error)
	UpdateStatus(id domain.StreamID, status domain.StreamStatus, errMsg string) error
	Remove(id domain.StreamID)
	ListOlderThan(age time.Duration) []domain.Stream
}

type PathService interface {
	StreamDir(id domain.StreamID) string
	HLSDir(id domain.StreamID) string
	EnsureStreamDirs(id domain.StreamID) error
	RemoveStreamDirs(id domain.StreamID) error
}

const (
	// initialRequiredBytes is the baseline readiness threshold, doubled on
	// every file-not-ready retry.
	initialRequiredBytes = 2 << 20
	maxConvertAttempts   = 3
	firstRetryDelay      = 10 * time.Second
	laterRetryDelay      = 15 * time.Second
)

type Config struct {
	// MaxActive bounds concurrently orchestrated streams; FFmpeg and swarms
	// are heavy, so admission defaults to 4.
	MaxActive int
	// ReadinessWait is the total budget of one readiness wait (default 60s).
	ReadinessWait time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxActive <= 0 {
		c.MaxActive = 4
	}
	if c.ReadinessWait <= 0 {
		c.ReadinessWait = 60 * time.Second
	}
}

type Coordinator struct {
	registry StreamRegistry
	torrents TorrentService
	pkgr     PackagerService
	paths    PathService
	logger   *slog.Logger
	cfg      Config

	sem chan struct{}

	// retryDelay is swapped out in tests; the production schedule is 10s for
	// the first retry and 15s after.
	retryDelay func(attempt int) time.Duration

	mu      sync.Mutex
	cancels map[domain.StreamID]context.CancelFunc
}

func New(cfg Config, reg StreamRegistry, torrents TorrentService, pkgr PackagerService, paths PathService, logger *slog.Logger) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		registry: reg,
		torrents: torrents,
		pkgr:     pkgr,
		paths:    paths,
		logger:   logger,
		cfg:      cfg,
		sem:      make(chan struct{}, cfg.MaxActive),
		retryDelay: func(attempt int) time.Duration {
			if attempt <= 1 {
				return firstRetryDelay
			}
			return laterRetryDelay
		},
		cancels: make(map[domain.StreamID]context.CancelFunc),
	}
}

// NewStream validates the magnet, allocates the stream and starts the
// orchestration in the background. Creation never fails asynchronously: the
// caller always gets an ID to poll, even if the stream later errors.
func (c *Coordinator) NewStream(magnetURI string) (domain.Stream, error) {
	if _, err := domain.ParseMagnet(magnetURI); err != nil {
		return domain.Stream{}, err
	}

	s := c.registry.Create(magnetURI)
	metrics.StreamsCreatedTotal.Inc()

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancels[s.ID] = cancel
	c.mu.Unlock()

	go c.run(ctx, s.ID, magnetURI)
	return s, nil
}

func (c *Coordinator) run(ctx context.Context, id domain.StreamID, magnetURI string) {
	defer c.dropCancel(id)

	// Admission gate. A queued stream sits in initializing until a slot frees.
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-c.sem }()

	if err := c.paths.EnsureStreamDirs(id); err != nil {
		c.failTerminal(id, err)
		return
	}

	if err := c.torrents.Start(ctx, id, magnetURI); err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			return
		}
		c.failTerminal(id, err)
		return
	}

	if err := c.convertWithRetries(ctx, id); err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			return
		}
		c.failTerminal(id, err)
		return
	}

	c.logger.Info("stream orchestration finished", slog.String("streamId", string(id)))
}

// convertWithRetries runs the readiness wait plus packager cycle, retrying on
// file-not-ready with growing byte requirements and a capped attempt count.
func (c *Coordinator) convertWithRetries(ctx context.Context, id domain.StreamID) error {
	requiredBytes := int64(initialRequiredBytes)

	for attempt := 1; attempt <= maxConvertAttempts; attempt++ {
		if err := c.waitUntilReadable(ctx, id, requiredBytes); err != nil {
			return err
		}

		inputPath, err := c.resolveInputPath(id)
		if err != nil {
			return err
		}

		if container, ok := sniffContainer(inputPath); !ok {
			c.logger.Warn("unrecognised container signature, attempting conversion anyway",
				slog.String("streamId", string(id)),
				slog.String("input", inputPath),
			)
		} else {
			c.logger.Debug("container detected",
				slog.String("streamId", string(id)),
				slog.String("container", container),
			)
		}

		err = c.pkgr.Convert(ctx, packager.Request{
			StreamID:  id,
			InputPath: inputPath,
			OutputDir: c.paths.HLSDir(id),
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrFileNotReady) {
			return err
		}

		c.logger.Warn("input not ready for packaging",
			slog.String("streamId", string(id)),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if uerr := c.registry.UpdateStatus(id, domain.StatusWaitingForData, ""); uerr != nil {
			return uerr
		}
		if attempt == maxConvertAttempts {
			break
		}

		select {
		case <-time.After(c.retryDelay(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}
		requiredBytes *= 2
	}

	return fmt.Errorf("%w: input never became readable after %d attempts", domain.ErrFileNotReady, maxConvertAttempts)
}

// failTerminal records the error on the registry entry and releases the
// stream's runtime resources. The registry entry itself survives so clients
// polling the status endpoint see the failure; the janitor removes it later.
func (c *Coordinator) failTerminal(id domain.StreamID, cause error) {
	c.logger.Error("stream failed",
		slog.String("streamId", string(id)),
		slog.String("error", cause.Error()),
	)

	if err := c.registry.UpdateStatus(id, domain.StatusError, userMessage(cause)); err != nil {
		if s, gerr := c.registry.Get(id); gerr == nil && s.Status == domain.StatusReady {
			// The packager died after the stream went ready. The segment
			// window already flushed to disk is still playable, so keep the
			// files and the ready entry; the janitor reclaims them by age.
			c.logger.Warn("packager failed after ready, keeping served window",
				slog.String("streamId", string(id)),
				slog.String("error", cause.Error()),
			)
			c.pkgr.Stop(id)
			c.torrents.Cleanup(id)
			return
		}
		// Already terminal (the watchdog may have beaten us to it).
		c.logger.Debug("error transition rejected",
			slog.String("streamId", string(id)),
			slog.String("error", err.Error()),
		)
	}

	c.pkgr.Stop(id)
	c.torrents.Cleanup(id)
	if err := c.paths.RemoveStreamDirs(id); err != nil {
		c.logger.Error("failed to remove stream directories",
			slog.String("streamId", string(id)),
			slog.String("error", err.Error()),
		)
	}
}

// Cleanup tears a stream down completely, in the mandatory order: packager,
// then torrent engine, then registry, then filesystem. Stopping the engine
// first could hand the packager a truncated file mid-read. Idempotent.
func (c *Coordinator) Cleanup(id domain.StreamID) {
	c.mu.Lock()
	if cancel, ok := c.cancels[id]; ok {
		cancel()
		delete(c.cancels, id)
	}
	c.mu.Unlock()

	c.pkgr.Stop(id)
	c.torrents.Cleanup(id)
	c.registry.Remove(id)
	if err := c.paths.RemoveStreamDirs(id); err != nil {
		c.logger.Error("failed to remove stream directories",
			slog.String("streamId", string(id)),
			slog.String("error", err.Error()),
		)
	}

	metrics.StreamsCleanedTotal.Inc()
	c.logger.Info("stream cleaned up", slog.String("streamId", string(id)))
}

// Shutdown cancels every live orchestration and cleans up all streams.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	ids := make([]domain.StreamID, 0, len(c.cancels))
	for id := range c.cancels {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Cleanup(id)
	}
}

func (c *Coordinator) dropCancel(id domain.StreamID) {
	c.mu.Lock()
	if cancel, ok := c.cancels[id]; ok {
		cancel()
		delete(c.cancels, id)
	}
	c.mu.Unlock()
}

// userMessage strips internal error chains down to the short human-readable
// text the status endpoint exposes.
func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoMedia):
		return "no suitable video file found in torrent"
	case errors.Is(err, domain.ErrDeadTorrent):
		return "torrent appears to be dead (no peers found)"
	case errors.Is(err, domain.ErrFileNotReady):
		return "video data never became available"
	case errors.Is(err, domain.ErrIO):
		return "storage is not writable"
	default:
		return err.Error()
	}
}
