package coordinator

import (
	"context"
	"fmt"
	"os"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
)

const (
	readinessPollInterval = time.Second
	// lateStartBytes is enough for FFmpeg to probe the container when the
	// coordinator decides to proceed on time pressure alone.
	lateStartBytes = 50 << 10
	// thresholdCap bounds the relative threshold: never demand more than
	// 1 MiB beyond what the percentage rule asks for.
	thresholdCap = 1 << 20
)

// waitUntilReadable blocks until the target file holds enough contiguous-ish
// data for the packager to start, or fails with dead_torrent. The effective
// downloaded size is the max of the on-disk size and the engine's per-file
// counter; the disk wins because it is what FFmpeg will actually read.
func (c *Coordinator) waitUntilReadable(ctx context.Context, id domain.StreamID, requiredBytes int64) error {
	deadline := time.Now().Add(c.cfg.ReadinessWait)
	halfway := time.Now().Add(c.cfg.ReadinessWait / 2)

	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	for {
		stats, ok := c.torrents.Stats(id)
		if !ok {
			return fmt.Errorf("%w: torrent session gone", domain.ErrCancelled)
		}

		diskSize := c.onDiskSize(id)
		effective := diskSize
		if stats.FileBytesCompleted > effective {
			effective = stats.FileBytesCompleted
		}

		if stats.FileLength > 0 && diskSize >= stats.FileLength {
			return nil // fully on disk
		}
		if effective >= readinessThreshold(requiredBytes, stats.FileLength) {
			return nil
		}

		now := time.Now()
		if now.After(halfway) && effective >= lateStartBytes {
			// Half the budget gone with a probeable head: proceed and bet the
			// packager can limp forward.
			return nil
		}
		if now.After(deadline) {
			if stats.Peers > 0 || stats.DownloadSpeed > 0 {
				return nil
			}
			metrics.DeadTorrentsTotal.Inc()
			return fmt.Errorf("%w: no data after %s with an empty swarm", domain.ErrDeadTorrent, c.cfg.ReadinessWait)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}
	}
}

// readinessThreshold is min(requiredBytes, 1% of file length, 1 MiB); with
// unknown length the percentage rule drops out.
func readinessThreshold(requiredBytes, fileLength int64) int64 {
	threshold := requiredBytes
	if fileLength > 0 && fileLength/100 < threshold {
		threshold = fileLength / 100
	}
	if threshold > thresholdCap {
		threshold = thresholdCap
	}
	if threshold < 1 {
		threshold = 1
	}
	return threshold
}

func (c *Coordinator) onDiskSize(id domain.StreamID) int64 {
	path, err := c.resolveInputPath(id)
	if err != nil {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
