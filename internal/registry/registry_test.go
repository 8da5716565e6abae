package registry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"streamgate/internal/domain"
)

const testMagnet = "magnet:?xt=urn:btih:c9e15763f722f23e98a29decdfae341b98d53056"

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	current := start
	now := func() time.Time { return current }
	advance := func(d time.Duration) { current = current.Add(d) }
	return now, advance
}

func sequentialIDs() func() domain.StreamID {
	n := 0
	return func() domain.StreamID {
		n++
		return domain.StreamID(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
	}
}

func TestCreateAndGet(t *testing.T) {
	r := New()
	s := r.Create(testMagnet)

	if s.Status != domain.StatusInitializing {
		t.Fatalf("status = %s", s.Status)
	}
	if s.Progress != 0 {
		t.Fatalf("progress = %v", s.Progress)
	}
	if s.ID == "" {
		t.Fatal("empty id")
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Magnet != testMagnet {
		t.Fatalf("magnet = %q", got.Magnet)
	}

	if _, err := r.Get("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatusValidatesTransitions(t *testing.T) {
	r := New()
	s := r.Create(testMagnet)

	if err := r.UpdateStatus(s.ID, domain.StatusDownloading, ""); err != nil {
		t.Fatalf("initializing -> downloading: %v", err)
	}
	if err := r.UpdateStatus(s.ID, domain.StatusReady, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("downloading -> ready should be invalid, got %v", err)
	}
	if err := r.UpdateStatus(s.ID, domain.StatusConverting, ""); err != nil {
		t.Fatalf("downloading -> converting: %v", err)
	}
	if err := r.UpdateStatus(s.ID, domain.StatusReady, ""); err != nil {
		t.Fatalf("converting -> ready: %v", err)
	}

	got, _ := r.Get(s.ID)
	if got.Progress != 100 {
		t.Fatalf("ready should pin progress at 100, got %v", got.Progress)
	}
	// Ready is terminal for forward transitions.
	if err := r.UpdateStatus(s.ID, domain.StatusError, "boom"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("ready -> error should be invalid, got %v", err)
	}
}

func TestUpdateStatusErrorIsTerminal(t *testing.T) {
	r := New()
	s := r.Create(testMagnet)

	if err := r.UpdateStatus(s.ID, domain.StatusError, "torrent appears to be dead (no peers found)"); err != nil {
		t.Fatalf("-> error: %v", err)
	}
	got, _ := r.Get(s.ID)
	if got.Error == "" {
		t.Fatal("error message lost")
	}
	if err := r.UpdateStatus(s.ID, domain.StatusDownloading, ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("error -> downloading should be invalid, got %v", err)
	}
}

func TestUpdateProgressClamps(t *testing.T) {
	r := New()
	s := r.Create(testMagnet)

	for _, tc := range []struct{ in, want float64 }{
		{-5, 0}, {0, 0}, {37.2, 37.2}, {100, 100}, {140, 100},
	} {
		if err := r.UpdateProgress(s.ID, tc.in); err != nil {
			t.Fatal(err)
		}
		got, _ := r.Get(s.ID)
		if got.Progress != tc.want {
			t.Fatalf("progress(%v) = %v, want %v", tc.in, got.Progress, tc.want)
		}
	}
}

func TestUpdateProgressIgnoredOnceTerminal(t *testing.T) {
	r := New()
	s := r.Create(testMagnet)
	_ = r.UpdateStatus(s.ID, domain.StatusDownloading, "")
	_ = r.UpdateStatus(s.ID, domain.StatusConverting, "")
	_ = r.UpdateStatus(s.ID, domain.StatusReady, "")

	if err := r.UpdateProgress(s.ID, 12); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(s.ID)
	if got.Progress != 100 {
		t.Fatalf("ready progress moved to %v", got.Progress)
	}
}

func TestKeepAlive(t *testing.T) {
	now, advance := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	r := NewWithClock(now, sequentialIDs())
	s := r.Create(testMagnet)

	advance(5 * time.Minute)
	if err := r.KeepAlive(s.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(s.ID)
	if got.AccessCount != 1 {
		t.Fatalf("access count = %d", got.AccessCount)
	}
	if !got.LastAccessAt.After(got.CreatedAt) {
		t.Fatal("last access not bumped")
	}
}

func TestListOlderThanExemptsActiveStreams(t *testing.T) {
	now, advance := testClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	r := NewWithClock(now, sequentialIDs())

	stale := r.Create(testMagnet)
	active := r.Create(testMagnet)
	converting := r.Create(testMagnet)
	_ = r.UpdateStatus(active.ID, domain.StatusDownloading, "")
	_ = r.UpdateStatus(converting.ID, domain.StatusDownloading, "")
	_ = r.UpdateStatus(converting.ID, domain.StatusConverting, "")

	advance(35 * time.Minute)
	fresh := r.Create(testMagnet)

	old := r.ListOlderThan(30 * time.Minute)
	if len(old) != 1 || old[0].ID != stale.ID {
		t.Fatalf("older-than = %+v, want only %s", old, stale.ID)
	}
	if _, err := r.Get(fresh.ID); err != nil {
		t.Fatal("fresh stream should still exist")
	}
}

func TestStatsAndSnapshot(t *testing.T) {
	r := New()
	a := r.Create(testMagnet)
	b := r.Create(testMagnet)
	_ = r.UpdateStatus(b.ID, domain.StatusDownloading, "")

	stats := r.Stats()
	if stats[domain.StatusInitializing] != 1 || stats[domain.StatusDownloading] != 1 {
		t.Fatalf("stats = %v", stats)
	}
	if len(r.Snapshot()) != 2 {
		t.Fatalf("snapshot = %d entries", len(r.Snapshot()))
	}

	r.Remove(a.ID)
	r.Remove(a.ID) // idempotent
	if r.Len() != 1 {
		t.Fatalf("len = %d after remove", r.Len())
	}
}
