package acquirer

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/anacrolix/torrent"
)

const (
	// discoveryGracePeriod is how long a fresh torrent gets to find peers on
	// its own before recovery kicks in.
	discoveryGracePeriod = 5 * time.Second
	discoveryInterval    = 10 * time.Second
	discoveryAttempts    = 5
)

// runPeerDiscovery injects the magnet's explicit peer hints right away, then
// watches the young swarm: if the torrent still has zero peers after the
// grace period, it re-announces and re-bootstraps DHT a bounded number of
// times. All of it is best-effort; the watchdog owns the dead verdict.
func (a *Acquirer) runPeerDiscovery(ctx context.Context, sess *session) {
	a.addPeerHints(sess)

	select {
	case <-time.After(discoveryGracePeriod):
	case <-ctx.Done():
		return
	}

	for attempt := 1; attempt <= discoveryAttempts; attempt++ {
		if sess.t.Stats().ActivePeers > 0 {
			return
		}

		a.logger.Info("no peers yet, forcing announce",
			slog.String("streamId", string(sess.id)),
			slog.Int("attempt", attempt),
		)
		sess.t.AddTrackers([][]string{fallbackTrackers()})
		a.client.AddDhtNodes(dhtBootstrapNodes())
		a.addPeerHints(sess)

		select {
		case <-time.After(discoveryInterval):
		case <-ctx.Done():
			return
		}
	}
}

// addPeerHints feeds the magnet's x.pe addresses straight into the swarm.
func (a *Acquirer) addPeerHints(sess *session) {
	if len(sess.magnet.Peers) == 0 {
		return
	}

	peers := make([]torrent.PeerInfo, 0, len(sess.magnet.Peers))
	for _, hint := range sess.magnet.Peers {
		addr, err := net.ResolveTCPAddr("tcp", hint)
		if err != nil {
			a.logger.Debug("unusable peer hint",
				slog.String("streamId", string(sess.id)),
				slog.String("peer", hint),
			)
			continue
		}
		peers = append(peers, torrent.PeerInfo{Addr: addr})
	}
	if len(peers) > 0 {
		sess.t.AddPeers(peers)
	}
}
