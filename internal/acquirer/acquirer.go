// Package acquirer wraps the anacrolix torrent engine for one purpose:
// getting the largest suitable video file of a magnet link onto disk as fast
// as the swarm allows, while reporting progress and health into the stream
// registry.
package acquirer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	alog "github.com/anacrolix/log"
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"

	"streamgate/internal/domain"
)

// StatusSink is the registry surface the acquirer writes to. Cross-component
// references are by stream ID only; the registry record is looked up on
// demand.
type StatusSink interface {
	UpdateStatus(id domain.StreamID, status domain.StreamStatus, errMsg string) error
	UpdateProgress(id domain.StreamID, pct float64) error
}

type Config struct {
	// BTPort is the deterministic BitTorrent listen port (TCP and UDP, DHT
	// shares the socket) so NAT traversal and firewall rules are reproducible.
	BTPort int
	// MaxConnsPerTorrent is 100 on the default profile, 200 on aggressive.
	MaxConnsPerTorrent int
	// MetadataTimeout caps the wait for torrent metadata after AddTorrentSpec.
	MetadataTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BTPort == 0 {
		c.BTPort = 6881
	}
	if c.MaxConnsPerTorrent == 0 {
		c.MaxConnsPerTorrent = 100
	}
	if c.MetadataTimeout == 0 {
		c.MetadataTimeout = 60 * time.Second
	}
}

type session struct {
	id       domain.StreamID
	magnet   domain.Magnet
	t        *torrent.Torrent
	file     *torrent.File
	filePath string // engine-relative path of the selected file
	cancel   context.CancelFunc
}

type Acquirer struct {
	client   *torrent.Client
	registry StatusSink
	// streamDirFor resolves the per-stream download directory (path service).
	streamDirFor func(domain.StreamID) string
	logger       *slog.Logger
	cfg          Config

	mu       sync.Mutex
	sessions map[domain.StreamID]*session

	speedMu sync.Mutex
	speeds  map[domain.StreamID]speedSample
}

func New(cfg Config, sink StatusSink, streamDirFor func(domain.StreamID) string, logger *slog.Logger) (*Acquirer, error) {
	cfg.applyDefaults()

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.ListenPort = cfg.BTPort
	clientConfig.NoDHT = false
	clientConfig.DisableTrackers = false
	clientConfig.EstablishedConnsPerTorrent = cfg.MaxConnsPerTorrent
	clientConfig.Seed = false
	// Compatibility over stealth: accept encrypted peers but never require them.
	clientConfig.HeaderObfuscationPolicy = torrent.HeaderObfuscationPolicy{
		Preferred:        true,
		RequirePreferred: false,
	}
	clientConfig.Logger = alog.Default.FilterLevel(alog.Error)

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngine, err)
	}

	return &Acquirer{
		client:       client,
		registry:     sink,
		streamDirFor: streamDirFor,
		logger:       logger,
		cfg:          cfg,
		sessions:     make(map[domain.StreamID]*session),
		speeds:       make(map[domain.StreamID]speedSample),
	}, nil
}

// Start begins acquisition for a stream. Precondition: the registry holds the
// stream in status initializing. On success the engine is running against the
// per-stream download directory, the target file is selected (others
// deselected), monitoring goroutines are live, and the registry has
// transitioned to downloading.
func (a *Acquirer) Start(ctx context.Context, id domain.StreamID, magnetURI string) error {
	m, err := domain.ParseMagnet(magnetURI)
	if err != nil {
		return err
	}
	if a.getSession(id) != nil {
		return fmt.Errorf("%w: stream %s already has a torrent session", domain.ErrEngine, id)
	}

	spec, err := torrent.TorrentSpecFromMagnetUri(m.Raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	spec.Storage = storage.NewFile(a.streamDirFor(id))
	spec.Trackers = append(spec.Trackers, fallbackTrackers())

	t, _, err := a.client.AddTorrentSpec(spec)
	if err != nil {
		return fmt.Errorf("%w: add torrent: %v", domain.ErrEngine, err)
	}

	a.mu.Lock()
	if _, exists := a.sessions[id]; exists {
		// Lost the race to a concurrent Start; release our engine entry.
		a.mu.Unlock()
		t.Drop()
		return fmt.Errorf("%w: stream %s already has a torrent session", domain.ErrEngine, id)
	}
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &session{id: id, magnet: m, t: t, cancel: cancel}
	a.sessions[id] = sess
	a.mu.Unlock()

	// Peer hints and tracker recovery start immediately; metadata for a
	// healthy magnet usually needs them anyway.
	go a.runPeerDiscovery(sessCtx, sess)

	select {
	case <-t.GotInfo():
	case <-time.After(a.cfg.MetadataTimeout):
		a.Cleanup(id)
		return fmt.Errorf("%w: no torrent metadata after %s", domain.ErrDeadTorrent, a.cfg.MetadataTimeout)
	case <-ctx.Done():
		a.Cleanup(id)
		return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
	}

	file, err := a.selectTargetFile(sess)
	if err != nil {
		a.Cleanup(id)
		return err
	}
	sess.file = file
	sess.filePath = file.Path()

	if err := a.registry.UpdateStatus(id, domain.StatusDownloading, ""); err != nil {
		a.Cleanup(id)
		return fmt.Errorf("%w: %v", domain.ErrEngine, err)
	}

	a.logger.Info("torrent acquisition started",
		slog.String("streamId", string(id)),
		slog.String("infoHash", m.InfoHash),
		slog.String("file", sess.filePath),
		slog.Int64("fileLength", file.Length()),
	)

	go a.runWatchdog(sessCtx, sess)
	go a.runProgressUpdates(sessCtx, sess)
	return nil
}

// selectTargetFile applies the domain selection policy to the announced files
// and selects the winner on the engine, deselecting everything else.
func (a *Acquirer) selectTargetFile(sess *session) (*torrent.File, error) {
	files := sess.t.Files()
	candidates := make([]domain.CandidateFile, 0, len(files))
	for i, f := range files {
		candidates = append(candidates, domain.CandidateFile{
			Index:  i,
			Path:   f.Path(),
			Length: f.Length(),
		})
	}

	chosen, err := domain.SelectVideoFile(candidates)
	if err != nil {
		return nil, err
	}

	for i, f := range files {
		sf := adaptFile(f)
		if i == chosen.Index {
			sf.Select()
			continue
		}
		// Deselection is optional on some engines; failures are tolerated.
		if err := sf.Deselect(); err != nil {
			a.logger.Warn("file deselect unsupported",
				slog.String("streamId", string(sess.id)),
				slog.String("file", f.Path()),
				slog.String("error", err.Error()),
			)
		}
	}
	return files[chosen.Index], nil
}

// Cleanup destroys the torrent session. Idempotent: a missing session is a
// no-op, and the on-disk download tree is left for the coordinator to delete.
func (a *Acquirer) Cleanup(id domain.StreamID) {
	a.mu.Lock()
	sess, ok := a.sessions[id]
	if ok {
		delete(a.sessions, id)
	}
	a.mu.Unlock()
	if !ok {
		return
	}

	sess.cancel()
	sess.t.Drop()
	a.forgetSpeed(id)

	// Return freed torrent buffers to the OS promptly; Go's GC can otherwise
	// hold them long enough to OOM memory-constrained deployments.
	debug.FreeOSMemory()

	a.logger.Info("torrent session destroyed", slog.String("streamId", string(id)))
}

// Close drops every session and shuts the engine down.
func (a *Acquirer) Close() error {
	a.mu.Lock()
	ids := make([]domain.StreamID, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.Cleanup(id)
	}

	errList := a.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

// Progress returns overall torrent completion in [0,100].
func (a *Acquirer) Progress(id domain.StreamID) float64 {
	st, ok := a.Stats(id)
	if !ok {
		return 0
	}
	return st.Percent()
}

// Stats returns a point-in-time swarm view for the stream, or false when no
// session exists.
func (a *Acquirer) Stats(id domain.StreamID) (domain.SwarmStats, bool) {
	sess := a.getSession(id)
	if sess == nil {
		return domain.SwarmStats{}, false
	}
	return a.sampleStats(sess), true
}

// SelectedFilePath returns the engine-relative path of the chosen video file.
func (a *Acquirer) SelectedFilePath(id domain.StreamID) (string, bool) {
	sess := a.getSession(id)
	if sess == nil || sess.filePath == "" {
		return "", false
	}
	return sess.filePath, true
}

func (a *Acquirer) getSession(id domain.StreamID) *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[id]
}

func (a *Acquirer) sampleStats(sess *session) domain.SwarmStats {
	stats := sess.t.Stats()
	out := domain.SwarmStats{
		Peers:          stats.ActivePeers,
		BytesCompleted: sess.t.BytesCompleted(),
	}
	if infoReady(sess.t) {
		out.TotalLength = sess.t.Length()
	}
	if sess.file != nil {
		out.FileLength = sess.file.Length()
		out.FileBytesCompleted = sess.file.BytesCompleted()
	}
	out.DownloadSpeed, out.UploadSpeed = a.sampleSpeed(sess.id, stats, time.Now().UTC())
	return out
}

func infoReady(t *torrent.Torrent) bool {
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

// runProgressUpdates pushes overall torrent progress into the registry every
// two seconds until the session ends.
func (a *Acquirer) runProgressUpdates(ctx context.Context, sess *session) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := a.sampleStats(sess)
			if err := a.registry.UpdateProgress(sess.id, st.Percent()); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return
				}
			}
		}
	}
}

type speedSample struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
}

func (a *Acquirer) sampleSpeed(id domain.StreamID, stats torrent.TorrentStats, now time.Time) (int64, int64) {
	currentRead := stats.BytesReadUsefulData.Int64()
	currentWritten := stats.BytesWrittenData.Int64()

	a.speedMu.Lock()
	defer a.speedMu.Unlock()

	prev, ok := a.speeds[id]
	a.speeds[id] = speedSample{at: now, bytesRead: currentRead, bytesWritten: currentWritten}

	if !ok || prev.at.IsZero() {
		return 0, 0
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}

	deltaRead := currentRead - prev.bytesRead
	deltaWritten := currentWritten - prev.bytesWritten
	if deltaRead < 0 {
		deltaRead = 0
	}
	if deltaWritten < 0 {
		deltaWritten = 0
	}
	return int64(float64(deltaRead) / dt), int64(float64(deltaWritten) / dt)
}

func (a *Acquirer) forgetSpeed(id domain.StreamID) {
	a.speedMu.Lock()
	delete(a.speeds, id)
	a.speedMu.Unlock()
}
