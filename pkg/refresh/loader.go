package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wavepredictor/boatrace"
)

// API is the part of *boatrace.Client the loader needs.
type API interface {
	SystemStatus(ctx context.Context) (*boatrace.SystemStatus, error)
	Venues(ctx context.Context) (boatrace.Venues, error)
	TodayRaces(ctx context.Context) ([]boatrace.RaceSummary, error)
	RaceEntries(ctx context.Context, venue string, race int) (*boatrace.RaceEntries, error)
	PerformanceStats(ctx context.Context, days int) (*boatrace.PerformanceStats, error)
}

// StatsDays is the window the initial load requests performance stats for.
const StatsDays = 30

// Loader performs the actual work of a refresh.
type Loader interface {
	// LoadInitial runs the startup sequence.
	LoadInitial(ctx context.Context, sel Selection) (*Snapshot, error)
	// LoadLatest runs a periodic or manual refresh.
	LoadLatest(ctx context.Context, sel Selection) (*Snapshot, error)
}

// DataLoader loads snapshots from the prediction API. Calls are issued one
// after another; the client paces them.
type DataLoader struct {
	api    API
	logger zerolog.Logger
}

func NewDataLoader(api API, logger zerolog.Logger) *DataLoader {
	return &DataLoader{api: api, logger: logger}
}

// LoadInitial fetches system status, venues and the selected race card if
// there is one. The day's races and performance stats follow, best effort.
func (l *DataLoader) LoadInitial(ctx context.Context, sel Selection) (*Snapshot, error) {
	status, err := l.api.SystemStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("load system status: %w", err)
	}
	l.logger.Debug().Str("system_status", status.SystemStatus).Str("version", status.Version).Msg("System status loaded.")

	snap, err := l.LoadLatest(ctx, sel)
	if err != nil {
		return nil, err
	}
	snap.Status = status

	races, err := l.api.TodayRaces(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Could not load today's races, continuing without them.")
	} else {
		snap.Races = races
	}

	stats, err := l.api.PerformanceStats(ctx, StatsDays)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Could not load performance stats, continuing without them.")
	} else {
		snap.Stats = stats
	}
	return snap, nil
}

// LoadLatest fetches venues, then the selected race card if there is one.
func (l *DataLoader) LoadLatest(ctx context.Context, sel Selection) (*Snapshot, error) {
	venues, err := l.api.Venues(ctx)
	if err != nil {
		return nil, fmt.Errorf("load venues: %w", err)
	}
	snap := &Snapshot{Venues: venues, Selection: sel}

	if sel.HasRace() {
		entries, err := l.api.RaceEntries(ctx, sel.VenueCode, sel.RaceNumber)
		if err != nil {
			return nil, fmt.Errorf("load entries for %s %dR: %w", sel.VenueCode, sel.RaceNumber, err)
		}
		snap.Entries = entries
	}

	snap.FetchedAt = time.Now()
	return snap, nil
}
