package domain

import (
	"errors"
	"time"
)

type StreamID string

// Stream is the registry record for one magnet-to-HLS pipeline. It is created
// by the coordinator, mutated only through registry operations, and removed by
// the janitor or an explicit force-cleanup.
type Stream struct {
	ID           StreamID     `json:"streamId"`
	Magnet       string       `json:"-"`
	Status       StreamStatus `json:"status"`
	Progress     float64      `json:"progress"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	AccessCount  int64        `json:"-"`
	LastAccessAt time.Time    `json:"-"`
}

// Validate checks domain invariants for Stream.
func (s Stream) Validate() error {
	if s.ID == "" {
		return errors.New("stream id is required")
	}
	if s.Progress < 0 || s.Progress > 100 {
		return errors.New("progress must be within [0,100]")
	}
	switch s.Status {
	case StatusInitializing, StatusDownloading, StatusConverting,
		StatusWaitingForData, StatusReady, StatusError:
		// valid
	case "":
		return errors.New("status is required")
	default:
		return errors.New("invalid status: " + string(s.Status))
	}
	return nil
}

// ReportedProgress is the progress value exposed to clients: pinned at 100
// once the stream is ready, even while background downloading continues.
func (s Stream) ReportedProgress() float64 {
	if s.Status == StatusReady {
		return 100
	}
	return s.Progress
}

// SwarmStats is a point-in-time view of a torrent session, used by the
// coordinator's readiness predicate and the acquirer's watchdog.
type SwarmStats struct {
	Peers              int   `json:"peers"`
	DownloadSpeed      int64 `json:"downloadSpeed"`
	UploadSpeed        int64 `json:"uploadSpeed"`
	BytesCompleted     int64 `json:"bytesCompleted"`
	TotalLength        int64 `json:"totalLength"`
	FileBytesCompleted int64 `json:"fileBytesCompleted"`
	FileLength         int64 `json:"fileLength"`
}

// Percent returns overall torrent completion in [0,100].
func (st SwarmStats) Percent() float64 {
	if st.TotalLength <= 0 {
		return 0
	}
	pct := float64(st.BytesCompleted) / float64(st.TotalLength) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
