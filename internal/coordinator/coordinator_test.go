package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"streamgate/internal/domain"
	"streamgate/internal/packager"
	"streamgate/internal/paths"
	"streamgate/internal/registry"
)

const testMagnet = "magnet:?xt=urn:btih:c9e15763f722f23e98a29decdfae341b98d53056&dn=movie"

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeTorrents mimics the acquirer: Start writes the selected file to disk
// and transitions the registry to downloading.
type fakeTorrents struct {
	mu       sync.Mutex
	reg      *registry.Registry
	paths    *paths.Service
	startErr error
	fileName string
	fileData []byte
	stats    domain.SwarmStats

	started  map[domain.StreamID]bool
	cleanups []domain.StreamID
}

func (f *fakeTorrents) Start(_ context.Context, id domain.StreamID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if err := os.MkdirAll(f.paths.StreamDir(id), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(f.paths.StreamDir(id), f.fileName), f.fileData, 0o644); err != nil {
		return err
	}
	if f.started == nil {
		f.started = make(map[domain.StreamID]bool)
	}
	f.started[id] = true
	return f.reg.UpdateStatus(id, domain.StatusDownloading, "")
}

func (f *fakeTorrents) Cleanup(id domain.StreamID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, id)
}

func (f *fakeTorrents) Stats(id domain.StreamID) (domain.SwarmStats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started[id] {
		return domain.SwarmStats{}, false
	}
	return f.stats, true
}

func (f *fakeTorrents) SelectedFilePath(id domain.StreamID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started[id] {
		return "", false
	}
	return f.fileName, true
}

type fakePackager struct {
	mu       sync.Mutex
	reg      *registry.Registry
	failures []error // consumed one per Convert call; nil means success
	// failAfterReady makes Convert transition to ready and then return this
	// error, mimicking FFmpeg crashing mid-transcode after the early start.
	failAfterReady error
	calls          int
	stops          []domain.StreamID
}

func (f *fakePackager) Convert(_ context.Context, req packager.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		if err != nil {
			return err
		}
	}
	if err := f.reg.UpdateStatus(req.StreamID, domain.StatusConverting, ""); err != nil {
		return err
	}
	if err := f.reg.UpdateStatus(req.StreamID, domain.StatusReady, ""); err != nil {
		return err
	}
	return f.failAfterReady
}

func (f *fakePackager) Stop(id domain.StreamID) {
	f.mu.Lock()
	f.stops = append(f.stops, id)
	f.mu.Unlock()
}

func (f *fakePackager) Active() []domain.StreamID { return nil }

func (f *fakePackager) convertCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakePackager) stopCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stops)
}

type fixture struct {
	coord    *Coordinator
	reg      *registry.Registry
	torrents *fakeTorrents
	pkgr     *fakePackager
	paths    *paths.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	ps := paths.New(t.TempDir())
	torrents := &fakeTorrents{
		reg:      reg,
		paths:    ps,
		fileName: "movie.mkv",
		fileData: make([]byte, 4096),
		stats:    domain.SwarmStats{Peers: 12, FileLength: 4096, FileBytesCompleted: 4096},
	}
	pkgr := &fakePackager{reg: reg}
	coord := New(Config{MaxActive: 2, ReadinessWait: 2 * time.Second}, reg, torrents, pkgr, ps, discardLogger())
	coord.retryDelay = func(int) time.Duration { return 10 * time.Millisecond }
	return &fixture{coord: coord, reg: reg, torrents: torrents, pkgr: pkgr, paths: ps}
}

func waitForStatus(t *testing.T, reg *registry.Registry, id domain.StreamID, want domain.StreamStatus) domain.Stream {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s, err := reg.Get(id)
		if err == nil && s.Status == want {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	s, err := reg.Get(id)
	t.Fatalf("stream never reached %s (last: %+v, err: %v)", want, s, err)
	return domain.Stream{}
}

func TestNewStreamRejectsBadMagnet(t *testing.T) {
	f := newFixture(t)

	if _, err := f.coord.NewStream("http://not-a-magnet"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if f.reg.Len() != 0 {
		t.Fatal("rejected magnet must not leave a registry entry")
	}
}

func TestHappyPath(t *testing.T) {
	f := newFixture(t)

	s, err := f.coord.NewStream(testMagnet)
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != domain.StatusInitializing {
		t.Fatalf("initial status = %s", s.Status)
	}

	got := waitForStatus(t, f.reg, s.ID, domain.StatusReady)
	if got.Progress != 100 {
		t.Fatalf("ready progress = %v", got.Progress)
	}
	if f.pkgr.convertCalls() != 1 {
		t.Fatalf("convert calls = %d", f.pkgr.convertCalls())
	}
}

func TestNoMediaIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.torrents.startErr = fmt.Errorf("%w: only text files", domain.ErrNoMedia)

	s, err := f.coord.NewStream(testMagnet)
	if err != nil {
		t.Fatal(err)
	}

	got := waitForStatus(t, f.reg, s.ID, domain.StatusError)
	if got.Error != "no suitable video file found in torrent" {
		t.Fatalf("error message = %q", got.Error)
	}
}

func TestFileNotReadyRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	f.pkgr.failures = []error{
		fmt.Errorf("%w: probe failed", domain.ErrFileNotReady),
		nil,
	}

	s, err := f.coord.NewStream(testMagnet)
	if err != nil {
		t.Fatal(err)
	}

	waitForStatus(t, f.reg, s.ID, domain.StatusReady)
	if f.pkgr.convertCalls() != 2 {
		t.Fatalf("convert calls = %d, want 2", f.pkgr.convertCalls())
	}
}

func TestFileNotReadyExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	notReady := fmt.Errorf("%w: probe failed", domain.ErrFileNotReady)
	f.pkgr.failures = []error{notReady, notReady, notReady}

	s, err := f.coord.NewStream(testMagnet)
	if err != nil {
		t.Fatal(err)
	}

	got := waitForStatus(t, f.reg, s.ID, domain.StatusError)
	if got.Error != "video data never became available" {
		t.Fatalf("error message = %q", got.Error)
	}
	if f.pkgr.convertCalls() != maxConvertAttempts {
		t.Fatalf("convert calls = %d, want %d", f.pkgr.convertCalls(), maxConvertAttempts)
	}
}

func TestPackagerCrashAfterReadyKeepsWindow(t *testing.T) {
	f := newFixture(t)
	f.pkgr.failAfterReady = errors.New("ffmpeg exited with signal 6")

	s, err := f.coord.NewStream(testMagnet)
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, f.reg, s.ID, domain.StatusReady)

	// The crash teardown runs after the ready transition; wait for it.
	deadline := time.Now().Add(5 * time.Second)
	for f.pkgr.stopCalls() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if f.pkgr.stopCalls() == 0 {
		t.Fatal("packager was never stopped after the crash")
	}

	got, err := f.reg.Get(s.ID)
	if err != nil {
		t.Fatalf("registry entry gone: %v", err)
	}
	if got.Status != domain.StatusReady || got.Error != "" {
		t.Fatalf("status = %s error = %q, want untouched ready", got.Status, got.Error)
	}
	if _, err := os.Stat(f.paths.HLSDir(s.ID)); err != nil {
		t.Fatalf("served segment window was removed: %v", err)
	}

	f.torrents.mu.Lock()
	defer f.torrents.mu.Unlock()
	if len(f.torrents.cleanups) == 0 {
		t.Fatal("torrent session survived the crash teardown")
	}
}

func TestNoRetryDelayAfterFinalAttempt(t *testing.T) {
	f := newFixture(t)
	notReady := fmt.Errorf("%w: probe failed", domain.ErrFileNotReady)
	f.pkgr.failures = []error{notReady, notReady, notReady}

	var mu sync.Mutex
	delays := 0
	f.coord.retryDelay = func(int) time.Duration {
		mu.Lock()
		delays++
		mu.Unlock()
		return time.Millisecond
	}

	s, err := f.coord.NewStream(testMagnet)
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, f.reg, s.ID, domain.StatusError)

	mu.Lock()
	defer mu.Unlock()
	if delays != maxConvertAttempts-1 {
		t.Fatalf("retry delays = %d, want %d (none after the final attempt)", delays, maxConvertAttempts-1)
	}
}

func TestDeadSwarmFailsReadiness(t *testing.T) {
	f := newFixture(t)
	f.torrents.fileData = nil // no bytes on disk
	f.torrents.stats = domain.SwarmStats{Peers: 0, FileLength: 1 << 30}

	coord := New(Config{MaxActive: 2, ReadinessWait: 100 * time.Millisecond}, f.reg, f.torrents, f.pkgr, f.paths, discardLogger())
	s, err := coord.NewStream(testMagnet)
	if err != nil {
		t.Fatal(err)
	}

	got := waitForStatus(t, f.reg, s.ID, domain.StatusError)
	if got.Error != "torrent appears to be dead (no peers found)" {
		t.Fatalf("error message = %q", got.Error)
	}
}

func TestCleanupOrderAndIdempotence(t *testing.T) {
	f := newFixture(t)

	s, err := f.coord.NewStream(testMagnet)
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, f.reg, s.ID, domain.StatusReady)

	f.coord.Cleanup(s.ID)
	f.coord.Cleanup(s.ID) // second call must be harmless

	if _, err := f.reg.Get(s.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("registry entry survived cleanup")
	}
	if _, err := os.Stat(f.paths.StreamDir(s.ID)); !os.IsNotExist(err) {
		t.Fatal("stream dir survived cleanup")
	}
	if len(f.pkgr.stops) == 0 {
		t.Fatal("packager was never stopped")
	}
	f.torrents.mu.Lock()
	defer f.torrents.mu.Unlock()
	if len(f.torrents.cleanups) == 0 {
		t.Fatal("torrent session was never cleaned")
	}
}

func TestReadinessThreshold(t *testing.T) {
	tests := []struct {
		name           string
		required, size int64
		want           int64
	}{
		{"RequiredWinsWhenSmallest", 512 << 10, 1 << 30, 512 << 10},
		{"OnePercentWinsForSmallFiles", 2 << 20, 10 << 20, (10 << 20) / 100},
		{"CapAtOneMiB", 8 << 20, 1 << 40, 1 << 20},
		{"UnknownLength", 2 << 20, 0, 1 << 20},
		{"NeverZero", 1, 10, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := readinessThreshold(tc.required, tc.size); got != tc.want {
				t.Fatalf("readinessThreshold(%d, %d) = %d, want %d", tc.required, tc.size, got, tc.want)
			}
		})
	}
}

func TestJanitorSweep(t *testing.T) {
	f := newFixture(t)

	s, err := f.coord.NewStream(testMagnet)
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, f.reg, s.ID, domain.StatusReady)

	j := NewJanitor(f.coord, time.Minute, time.Nanosecond, discardLogger())
	time.Sleep(5 * time.Millisecond) // let the entry age past the threshold
	j.Sweep()

	if _, err := f.reg.Get(s.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("janitor left a stale ready stream behind")
	}
}
