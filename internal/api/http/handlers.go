package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"streamgate/internal/domain"
)

type createStreamRequest struct {
	MagnetURL string `json:"magnetUrl"`
}

type createStreamResponse struct {
	StreamID  domain.StreamID     `json:"streamId"`
	Status    domain.StreamStatus `json:"status"`
	HLSURL    string              `json:"hlsUrl"`
	StatusURL string              `json:"statusUrl"`
}

type streamStatusResponse struct {
	StreamID  domain.StreamID     `json:"streamId"`
	Status    domain.StreamStatus `json:"status"`
	Progress  float64             `json:"progress"`
	Error     string              `json:"error,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

type streamPendingResponse struct {
	Status   domain.StreamStatus `json:"status"`
	Progress float64             `json:"progress"`
	Message  string              `json:"message"`
}

func statusView(s domain.Stream) streamStatusResponse {
	return streamStatusResponse{
		StreamID:  s.ID,
		Status:    s.Status,
		Progress:  s.ReportedProgress(),
		Error:     s.Error,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	var req createStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.MagnetURL == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "magnetUrl is required")
		return
	}

	stream, err := s.streams.NewStream(req.MagnetURL)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid magnet link")
			return
		}
		s.logger.Error("stream creation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	s.logger.Info("stream created", slog.String("streamId", string(stream.ID)))
	writeJSON(w, http.StatusOK, createStreamResponse{
		StreamID:  stream.ID,
		Status:    stream.Status,
		HLSURL:    fmt.Sprintf("/stream/%s", stream.ID),
		StatusURL: fmt.Sprintf("/stream/%s/status", stream.ID),
	})
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	stream, ok := s.lookupStream(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusView(stream))
}

// handleStreamPlaylist serves the playlist once the stream is ready; before
// that, a 202 with the current status gives players something to retry on.
func (s *Server) handleStreamPlaylist(w http.ResponseWriter, r *http.Request) {
	stream, ok := s.lookupStream(w, r)
	if !ok {
		return
	}

	switch stream.Status {
	case domain.StatusReady:
	case domain.StatusError:
		// The HLS files may already be gone after cleanup.
		writeError(w, http.StatusNotFound, "not_found", "stream failed: "+stream.Error)
		return
	default:
		writeJSON(w, http.StatusAccepted, streamPendingResponse{
			Status:   stream.Status,
			Progress: stream.ReportedProgress(),
			Message:  "stream is not ready yet, poll the status endpoint",
		})
		return
	}

	playlist := s.paths.PlaylistPath(stream.ID)
	if _, err := os.Stat(playlist); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "playlist not found")
		return
	}

	_ = s.index.KeepAlive(stream.ID)
	w.Header().Set("Content-Type", contentTypePlaylist)
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, playlist)
}

func (s *Server) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	stream, ok := s.lookupStream(w, r)
	if !ok {
		return
	}
	s.streams.Cleanup(stream.ID)
	s.logger.Info("stream deleted", slog.String("streamId", string(stream.ID)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) lookupStream(w http.ResponseWriter, r *http.Request) (domain.Stream, bool) {
	id := domain.StreamID(r.PathValue("id"))
	stream, err := s.index.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "stream not found")
		return domain.Stream{}, false
	}
	return stream, true
}
