package watcher

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rohankatakam/repograph/internal/tracker"
)

// EventKind classifies a filesystem change
type EventKind int

const (
	Create EventKind = iota
	Modify
	Remove
	RenameFrom
	RenameTo
	Rename
)

func (k EventKind) String() string {
	switch k {
	case Create:
		return "create"
	case Modify:
		return "modify"
	case Remove:
		return "remove"
	case RenameFrom:
		return "rename_from"
	case RenameTo:
		return "rename_to"
	case Rename:
		return "rename"
	}
	return "unknown"
}

// Event is a normalized change notification. OldPath is set for Rename.
type Event struct {
	Kind    EventKind
	Path    string
	OldPath string
}

// translate maps a raw fsnotify event to an Event. Chmod-only events are dropped.
func translate(raw fsnotify.Event) (Event, bool) {
	switch {
	case raw.Has(fsnotify.Remove):
		return Event{Kind: Remove, Path: raw.Name}, true
	case raw.Has(fsnotify.Rename):
		return Event{Kind: RenameFrom, Path: raw.Name}, true
	case raw.Has(fsnotify.Create):
		return Event{Kind: Create, Path: raw.Name}, true
	case raw.Has(fsnotify.Write):
		return Event{Kind: Modify, Path: raw.Name}, true
	}
	return Event{}, false
}

// Handler applies stabilized changes. Paths are absolute.
type Handler interface {
	Upsert(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
	Rename(ctx context.Context, from, to string) error
}

// Index exposes the last known fingerprint of a path for rename pairing
type Index interface {
	Lookup(path string) (tracker.Fingerprint, bool)
}

// Op names the handler call a Result reports on
type Op string

const (
	OpUpsert Op = "upsert"
	OpRemove Op = "remove"
	OpRename Op = "rename"
)

// Result is published after every handler call
type Result struct {
	Path    string
	OldPath string
	Op      Op
	Err     error
}

// State is the lifecycle state of a System
type State int32

const (
	StateIdle State = iota
	StateWatching
)

func (s State) String() string {
	if s == StateWatching {
		return "watching"
	}
	return "idle"
}

// Config tunes debouncing
type Config struct {
	Debounce      time.Duration // quiet period before a path is processed
	SweepInterval time.Duration // how often pending paths are checked
	RenameWindow  time.Duration // how long a rename source waits for its destination
	ResultBuffer  int
}

// DefaultConfig returns the standard debounce settings
func DefaultConfig() Config {
	return Config{
		Debounce:      300 * time.Millisecond,
		SweepInterval: 100 * time.Millisecond,
		RenameWindow:  100 * time.Millisecond,
		ResultBuffer:  256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.RenameWindow <= 0 {
		c.RenameWindow = d.RenameWindow
	}
	if c.ResultBuffer <= 0 {
		c.ResultBuffer = d.ResultBuffer
	}
	return c
}
