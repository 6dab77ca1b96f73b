// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package checkpoint provides the synchronization primitives that let a
// snapshot mechanism freeze the invocation loop at a quiescent point,
// snapshot the process, and release the loop after restore.
package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of the checkpoint gate. Transitions are strictly cyclic:
// Working -> Syncing -> Synced -> Working.
type State int

const (
	// StateWorking is normal operation; the invocation loop runs unobstructed.
	StateWorking State = iota
	// StateSyncing means a checkpoint was requested and the loop has not
	// reached its sync point yet.
	StateSyncing
	// StateSynced means the loop is parked at its sync point and
	// snapshotting is safe.
	StateSynced
)

func (s State) String() string {
	switch s {
	case StateWorking:
		return "Working"
	case StateSyncing:
		return "Syncing"
	case StateSynced:
		return "Synced"
	default:
		return "Unknown"
	}
}

// ErrSyncPointTimeout ...
var ErrSyncPointTimeout = errors.New("ErrSyncPointTimeout")

// Gate coordinates one invocation loop with the checkpoint/restore
// lifecycle. The controller side calls Prepare before a snapshot is
// taken and Resumed after the process comes back; the loop side calls
// SyncPoint once per completed unit of work. A gate serves exactly one
// loop; independent loops need independent gates.
type Gate struct {
	gateCondition *sync.Cond
	state         State
	lastModified  time.Time
}

// NewGate returns a new gate in the Working state.
func NewGate() *Gate {
	return &Gate{
		gateCondition: sync.NewCond(&sync.Mutex{}),
		state:         StateWorking,
		lastModified:  time.Now(),
	}
}

func (g *Gate) setStateUnsafe(state State) {
	g.state = state
	g.lastModified = time.Now()
}

// Prepare requests a checkpoint and suspends the caller until the loop
// has parked at its sync point. On return the loop is guaranteed to be
// blocked inside SyncPoint and will not process anything until Resumed
// is called; any teardown the caller performs afterwards runs outside
// the gate's critical section.
//
// The wait has no deadline of its own. ctx bounds it explicitly:
// context.Background() waits forever. When ctx expires first, the
// checkpoint is aborted, the gate returns to Working so the loop keeps
// serving, and ErrSyncPointTimeout is returned.
func (g *Gate) Prepare(ctx context.Context) error {
	g.gateCondition.L.Lock()
	g.setStateUnsafe(StateSyncing)

	if ctx.Done() == nil {
		defer g.gateCondition.L.Unlock()
		for g.state != StateSynced {
			g.gateCondition.Wait()
		}
		return nil
	}
	g.gateCondition.L.Unlock()

	synced := make(chan struct{})
	go func() {
		g.gateCondition.L.Lock()
		for g.state == StateSyncing {
			g.gateCondition.Wait()
		}
		g.gateCondition.L.Unlock()
		close(synced)
	}()

	select {
	case <-synced:
	case <-ctx.Done():
		g.gateCondition.L.Lock()
		if g.state == StateSyncing {
			g.setStateUnsafe(StateWorking)
			g.gateCondition.Broadcast()
		}
		g.gateCondition.L.Unlock()
		<-synced
	}

	g.gateCondition.L.Lock()
	defer g.gateCondition.L.Unlock()
	if g.state != StateSynced {
		return ErrSyncPointTimeout
	}
	return nil
}

// Resumed releases the loop after a restore. The caller must have
// finished its own reinitialization by the time it calls this. Calling
// Resumed when no checkpoint cycle is in progress is a no-op: host
// lifecycles may deliver a restore callback without a matching
// checkpoint.
func (g *Gate) Resumed() {
	g.gateCondition.L.Lock()
	defer g.gateCondition.L.Unlock()
	if g.state == StateWorking {
		return
	}
	g.setStateUnsafe(StateWorking)
	g.gateCondition.Broadcast()
}

// SyncPoint marks the one place in the invocation cycle where pausing
// is safe. Call it once after each fully submitted response. When no
// checkpoint is pending it returns immediately; otherwise it signals
// the pending Prepare and parks the loop until Resumed is called.
func (g *Gate) SyncPoint() {
	g.gateCondition.L.Lock()
	defer g.gateCondition.L.Unlock()
	if g.state == StateSyncing {
		g.setStateUnsafe(StateSynced)
		g.gateCondition.Broadcast()
	}
	for g.state != StateWorking {
		g.gateCondition.Wait()
	}
}

// State returns the current gate state.
func (g *Gate) State() State {
	g.gateCondition.L.Lock()
	defer g.gateCondition.L.Unlock()
	return g.state
}

// Description of the gate state for debugging purposes.
type Description struct {
	State        string `json:"state"`
	LastModified int64  `json:"lastModified"`
}

// Described returns the gate state description.
func (g *Gate) Described() Description {
	g.gateCondition.L.Lock()
	defer g.gateCondition.L.Unlock()
	return Description{
		State:        g.state.String(),
		LastModified: g.lastModified.UnixNano() / int64(time.Millisecond),
	}
}
