package store

import (
	"github.com/hpungsan/logsift/internal/event"
)

// Command is a store engine operation. The set of implementations is closed:
// WriteCmd, SnapshotCmd and RotateCmd, plus the engine's internal barrier
// and stop sentinel.
type Command interface {
	command()
}

// WriteCmd appends one classified event to its origin's database.
type WriteCmd struct {
	Origin        string
	Event         *event.Event
	VeryImportant bool
	Preview       string
}

// SnapshotCmd copies an origin's live database without closing it.
type SnapshotCmd struct {
	Origin string
}

// RotateCmd archives an origin's database on operator request.
type RotateCmd struct {
	Origin string
}

// barrierCmd replies with the row counts once every earlier command ran.
type barrierCmd struct {
	reply chan map[string]int
}

// stopCmd makes the worker close all handles and exit.
type stopCmd struct{}

func (WriteCmd) command()    {}
func (SnapshotCmd) command() {}
func (RotateCmd) command()   {}
func (barrierCmd) command()  {}
func (stopCmd) command()     {}
