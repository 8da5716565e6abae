// Package registry holds the in-memory index of live streams. State is
// process-local on purpose: a crash discards all streams and their files are
// reclaimed by the janitor's disk sweep.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamgate/internal/domain"
)

// Registry maps stream IDs to their records. One mutex over one small map —
// tens of entries in practice, with many readers on the HTTP side and a few
// writers in the coordinator's background tasks.
type Registry struct {
	mu      sync.RWMutex
	streams map[domain.StreamID]*domain.Stream

	now   func() time.Time
	newID func() domain.StreamID
}

func New() *Registry {
	return &Registry{
		streams: make(map[domain.StreamID]*domain.Stream),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() domain.StreamID { return domain.StreamID(uuid.NewString()) },
	}
}

// NewWithClock builds a registry with injectable time and ID sources for tests.
func NewWithClock(now func() time.Time, newID func() domain.StreamID) *Registry {
	r := New()
	if now != nil {
		r.now = now
	}
	if newID != nil {
		r.newID = newID
	}
	return r
}

// Create allocates a new stream in status initializing with progress 0.
func (r *Registry) Create(magnet string) domain.Stream {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now()
	s := &domain.Stream{
		ID:           r.newID(),
		Magnet:       magnet,
		Status:       domain.StatusInitializing,
		Progress:     0,
		CreatedAt:    ts,
		UpdatedAt:    ts,
		LastAccessAt: ts,
	}
	r.streams[s.ID] = s
	return *s
}

func (r *Registry) Get(id domain.StreamID) (domain.Stream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	if !ok {
		return domain.Stream{}, domain.ErrNotFound
	}
	return *s, nil
}

// UpdateStatus applies a status transition, validating it against the stream
// state machine. Setting the same status again refreshes the error message
// and timestamp without failing, so callers can update messages in place.
func (r *Registry) UpdateStatus(id domain.StreamID, status domain.StreamStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[id]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Status != status && !domain.CanTransition(s.Status, status) {
		return fmt.Errorf("%w: %s -> %s for stream %s", domain.ErrInvalidTransition, s.Status, status, id)
	}
	s.Status = status
	s.Error = errMsg
	if status == domain.StatusReady {
		s.Progress = 100
	}
	s.UpdatedAt = r.now()
	return nil
}

// UpdateProgress records overall torrent progress, clamped to [0,100].
// Terminal streams ignore updates: ready pins at 100 and error keeps its
// last observed value.
func (r *Registry) UpdateProgress(id domain.StreamID, pct float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[id]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Status.Terminal() {
		return nil
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	s.Progress = pct
	s.UpdatedAt = r.now()
	return nil
}

// KeepAlive bumps the access counter and last-access timestamp. Called by the
// HTTP layer on playlist and segment hits so the janitor sees live viewers.
func (r *Registry) KeepAlive(id domain.StreamID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streams[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.AccessCount++
	s.LastAccessAt = r.now()
	return nil
}

func (r *Registry) Remove(id domain.StreamID) {
	r.mu.Lock()
	delete(r.streams, id)
	r.mu.Unlock()
}

func (r *Registry) ListByStatus(status domain.StreamStatus) []domain.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Stream
	for _, s := range r.streams {
		if s.Status == status {
			out = append(out, *s)
		}
	}
	return out
}

// ListOlderThan returns streams created more than age ago, excluding streams
// that are actively downloading or converting: a slow but healthy stream is
// never handed to the janitor.
func (r *Registry) ListOlderThan(age time.Duration) []domain.Stream {
	cutoff := r.now().Add(-age)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Stream
	for _, s := range r.streams {
		if s.Status.Active() {
			continue
		}
		if s.CreatedAt.Before(cutoff) {
			out = append(out, *s)
		}
	}
	return out
}

// Snapshot returns a copy of every stream record, for the WebSocket broadcast.
func (r *Registry) Snapshot() []domain.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, *s)
	}
	return out
}

// Stats returns the number of streams per status.
func (r *Registry) Stats() map[domain.StreamStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[domain.StreamStatus]int)
	for _, s := range r.streams {
		out[s.Status]++
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
