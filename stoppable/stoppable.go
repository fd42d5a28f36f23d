////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package stoppable provides cooperative lifecycle control for the
// goroutines the core starts for itself: the transport's read pump and
// the event bus's flush loop. A loop checks its Stoppable's quit channel
// between units of work; a loop blocked inside a call (such as a
// WebSocket read) sees the quit signal only after that call returns.
package stoppable

import "time"

// Status is the lifecycle state of a Stoppable.
type Status uint32

const (
	Running Status = iota
	Stopping
	Stopped
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stoppable is anything that can be asked to stop and reports whether
// it is still running.
type Stoppable interface {
	Close(timeout time.Duration) error
	IsRunning() bool
	Name() string
}
