package acquirer

import (
	"github.com/anacrolix/torrent"
)

// swarmFile is the per-file capability surface the acquirer relies on.
// Select is mandatory; Deselect may be unsupported by an engine, in which
// case it returns an error and the extra files simply download too.
type swarmFile interface {
	Path() string
	Length() int64
	BytesCompleted() int64
	Select()
	Deselect() error
}

type anacrolixFile struct {
	f *torrent.File
}

func adaptFile(f *torrent.File) swarmFile {
	return anacrolixFile{f: f}
}

func (a anacrolixFile) Path() string          { return a.f.Path() }
func (a anacrolixFile) Length() int64         { return a.f.Length() }
func (a anacrolixFile) BytesCompleted() int64 { return a.f.BytesCompleted() }

// Select raises the file to high priority so its pieces win scheduling over
// anything else in the torrent.
func (a anacrolixFile) Select() {
	a.f.SetPriority(torrent.PiecePriorityHigh)
}

// Deselect drops the file's pieces out of the download schedule entirely.
func (a anacrolixFile) Deselect() error {
	a.f.SetPriority(torrent.PiecePriorityNone)
	return nil
}
