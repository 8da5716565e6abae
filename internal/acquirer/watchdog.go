package acquirer

import (
	"context"
	"log/slog"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/metrics"
)

const (
	watchdogInterval = 10 * time.Second
	// stallRecoveryTicks consecutive ticks without new bytes trigger a
	// pause-resume kick of the engine.
	stallRecoveryTicks = 3
	// deadTorrentTicks consecutive ticks without new bytes, combined with an
	// empty swarm, declare the torrent dead.
	deadTorrentTicks = 6

	deadTorrentMessage = "torrent appears to be dead (no peers found)"
)

// runWatchdog samples download progress every tick and escalates through two
// counters. stallTicks resets after each recovery attempt so the next kick
// waits a full stall window; deadTicks resets only when bytes actually move,
// so repeated ineffective recoveries still converge on the dead verdict.
func (a *Acquirer) runWatchdog(ctx context.Context, sess *session) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	lastBytes := sess.file.BytesCompleted()
	stallTicks := 0
	deadTicks := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		completed := sess.file.BytesCompleted()
		if sess.file.Length() > 0 && completed >= sess.file.Length() {
			// File fully on disk; nothing left to watch.
			return
		}

		if completed > lastBytes {
			lastBytes = completed
			stallTicks = 0
			deadTicks = 0
			continue
		}
		stallTicks++
		deadTicks++

		peers := sess.t.Stats().ActivePeers
		a.logger.Debug("download stalled",
			slog.String("streamId", string(sess.id)),
			slog.Int("stallTicks", stallTicks),
			slog.Int("deadTicks", deadTicks),
			slog.Int("peers", peers),
		)

		if deadTicks >= deadTorrentTicks && peers == 0 {
			metrics.DeadTorrentsTotal.Inc()
			a.logger.Warn("declaring torrent dead",
				slog.String("streamId", string(sess.id)),
				slog.Int("deadTicks", deadTicks),
			)
			if err := a.registry.UpdateStatus(sess.id, domain.StatusError, deadTorrentMessage); err != nil {
				a.logger.Error("failed to record dead torrent",
					slog.String("streamId", string(sess.id)),
					slog.String("error", err.Error()),
				)
			}
			a.Cleanup(sess.id)
			return
		}

		if stallTicks >= stallRecoveryTicks {
			a.kickTorrent(ctx, sess)
			stallTicks = 0
		}
	}
}

// kickTorrent pauses and resumes the torrent to force the engine to tear down
// its connections and renegotiate with the swarm. Often enough to unstick a
// transfer that wedged on a bad peer set.
func (a *Acquirer) kickTorrent(ctx context.Context, sess *session) {
	a.logger.Info("restarting stalled torrent", slog.String("streamId", string(sess.id)))

	sess.t.DisallowDataDownload()
	sess.t.SetMaxEstablishedConns(0)

	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return
	}

	sess.t.SetMaxEstablishedConns(a.cfg.MaxConnsPerTorrent)
	sess.t.AllowDataDownload()
	if sess.file != nil {
		// Reassert the selection; a paused engine can forget piece priorities.
		adaptFile(sess.file).Select()
	}
}
