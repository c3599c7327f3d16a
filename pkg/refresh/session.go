package refresh

import (
	"sync"
	"time"

	"github.com/wavepredictor/boatrace"
)

// Selection is the race the viewer is looking at. The zero value selects
// nothing.
type Selection struct {
	VenueCode  string
	VenueName  string
	RaceNumber int
}

// HasRace reports whether both venue and race are chosen.
func (s Selection) HasRace() bool {
	return s.VenueCode != "" && s.RaceNumber > 0
}

// Session holds per-viewer state for the lifetime of one frontend run.
type Session struct {
	mu        sync.RWMutex
	sel       Selection
	startedAt time.Time
	last      *Snapshot
}

func NewSession() *Session {
	return &Session{startedAt: time.Now()}
}

// Select replaces the current selection.
func (s *Session) Select(sel Selection) {
	s.mu.Lock()
	s.sel = sel
	s.mu.Unlock()
}

func (s *Session) Clear() {
	s.Select(Selection{})
}

func (s *Session) Selection() Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sel
}

func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// Remember keeps the latest successful snapshot so a view can redraw after
// a failed refresh.
func (s *Session) Remember(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
}

// Last returns the most recent successful snapshot, if any.
func (s *Session) Last() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Snapshot is the data gathered by one load.
type Snapshot struct {
	Status    *boatrace.SystemStatus
	Venues    boatrace.Venues
	Races     []boatrace.RaceSummary
	Entries   *boatrace.RaceEntries
	Stats     *boatrace.PerformanceStats
	Selection Selection
	FetchedAt time.Time
}
