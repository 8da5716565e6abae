package domain

import "errors"

type StreamStatus string

const (
	StatusInitializing   StreamStatus = "initializing"
	StatusDownloading    StreamStatus = "downloading"
	StatusConverting     StreamStatus = "converting"
	StatusWaitingForData StreamStatus = "waiting_for_data"
	StatusReady          StreamStatus = "ready"
	StatusError          StreamStatus = "error"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// AllStatuses enumerates every stream status, for metric labels and the like.
func AllStatuses() []StreamStatus {
	return []StreamStatus{
		StatusInitializing,
		StatusDownloading,
		StatusConverting,
		StatusWaitingForData,
		StatusReady,
		StatusError,
	}
}

// validTransitions defines the adjacency list of allowed forward transitions.
// Ready and Error are terminal: streams leave them only through removal.
var validTransitions = map[StreamStatus][]StreamStatus{
	StatusInitializing:   {StatusDownloading, StatusError},
	StatusDownloading:    {StatusConverting, StatusWaitingForData, StatusError},
	StatusWaitingForData: {StatusConverting, StatusDownloading, StatusError},
	StatusConverting:     {StatusReady, StatusWaitingForData, StatusError},
	StatusReady:          {},
	StatusError:          {},
}

// CanTransition reports whether a stream may move from one status to another.
func CanTransition(from, to StreamStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status permits no further forward transitions.
func (s StreamStatus) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// Active reports whether a stream in this status is exempt from janitor
// sweeps: a slow but healthy download or conversion is never removed for age.
func (s StreamStatus) Active() bool {
	return s == StatusDownloading || s == StatusConverting
}
