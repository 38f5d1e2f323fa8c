package service

import (
	"sync/atomic"
	"time"
)

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected  atomic.Bool
	lastTickUnix atomic.Int64 // unix seconds

	openSessions atomic.Int64
	monitors     atomic.Int64
	lastSyncUnix atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }
func (s *State) LastTick() time.Time   { return fromUnix(s.lastTickUnix.Load()) }

// SetSync records the result of a monitor sync.
func (s *State) SetSync(at time.Time, openSessions, monitors int) {
	s.openSessions.Store(int64(openSessions))
	s.monitors.Store(int64(monitors))
	s.lastSyncUnix.Store(at.Unix())
}

func (s *State) OpenSessions() int64 { return s.openSessions.Load() }
func (s *State) Monitors() int64     { return s.monitors.Load() }
func (s *State) LastSync() time.Time { return fromUnix(s.lastSyncUnix.Load()) }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func fromUnix(u int64) time.Time {
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}
