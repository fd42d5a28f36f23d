////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Multi groups several Stoppables (for example a transport's pump
// goroutines) so the connection object can close them together.
type Multi struct {
	name       string
	stoppables []Stoppable
	mux        sync.RWMutex
}

// NewMulti returns a new, empty Multi stoppable.
func NewMulti(name string) *Multi {
	return &Multi{name: name}
}

// Add registers a Stoppable with the group.
func (m *Multi) Add(s Stoppable) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.stoppables = append(m.stoppables, s)
}

// Name returns the group's name together with the names of its members.
func (m *Multi) Name() string {
	m.mux.RLock()
	defer m.mux.RUnlock()
	names := m.name + ": {"
	for i, s := range m.stoppables {
		if i > 0 {
			names += ", "
		}
		names += s.Name()
	}
	return names + "}"
}

// IsRunning reports whether any member is still running.
func (m *Multi) IsRunning() bool {
	m.mux.RLock()
	defer m.mux.RUnlock()
	for _, s := range m.stoppables {
		if s.IsRunning() {
			return true
		}
	}
	return false
}

// Close closes every member, collecting and returning their errors.
func (m *Multi) Close(timeout time.Duration) error {
	m.mux.RLock()
	members := make([]Stoppable, len(m.stoppables))
	copy(members, m.stoppables)
	m.mux.RUnlock()

	var errs []error
	for _, s := range members {
		if !s.IsRunning() {
			continue
		}
		if err := s.Close(timeout); err != nil {
			errs = append(errs, errors.Wrapf(err, "closing %s", s.Name()))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	msg := errs[0].Error()
	for _, e := range errs[1:] {
		msg += "; " + e.Error()
	}
	return errors.New(msg)
}
