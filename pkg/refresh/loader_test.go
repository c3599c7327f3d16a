package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavepredictor/boatrace"
)

type fakeAPI struct {
	mu    sync.Mutex
	calls []string

	statusErr  error
	venuesErr  error
	racesErr   error
	entriesErr error
	statsErr   error
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) SystemStatus(ctx context.Context) (*boatrace.SystemStatus, error) {
	f.record("status")
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &boatrace.SystemStatus{SystemStatus: "operational", Version: "1.2.0"}, nil
}

func (f *fakeAPI) Venues(ctx context.Context) (boatrace.Venues, error) {
	f.record("venues")
	if f.venuesErr != nil {
		return nil, f.venuesErr
	}
	return boatrace.Venues{"01": {Code: "01", Name: "桐生"}}, nil
}

func (f *fakeAPI) TodayRaces(ctx context.Context) ([]boatrace.RaceSummary, error) {
	f.record("races")
	if f.racesErr != nil {
		return nil, f.racesErr
	}
	return []boatrace.RaceSummary{{RaceID: "R1", VenueCode: "01", RaceNumber: 1}}, nil
}

func (f *fakeAPI) RaceEntries(ctx context.Context, venue string, race int) (*boatrace.RaceEntries, error) {
	f.record("entries")
	if f.entriesErr != nil {
		return nil, f.entriesErr
	}
	return &boatrace.RaceEntries{VenueCode: venue, RaceNumber: race}, nil
}

func (f *fakeAPI) PerformanceStats(ctx context.Context, days int) (*boatrace.PerformanceStats, error) {
	f.record("stats")
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &boatrace.PerformanceStats{WinRate: 0.25}, nil
}

func TestDataLoader_LoadInitial(t *testing.T) {
	tests := []struct {
		name      string
		api       *fakeAPI
		sel       Selection
		wantCalls []string
		wantErr   error
		wantRaces bool
		wantStats bool
	}{
		{
			name:      "no selection",
			api:       &fakeAPI{},
			wantCalls: []string{"status", "venues", "races", "stats"},
			wantRaces: true,
			wantStats: true,
		},
		{
			name:      "with selection",
			api:       &fakeAPI{},
			sel:       Selection{VenueCode: "01", RaceNumber: 3},
			wantCalls: []string{"status", "venues", "entries", "races", "stats"},
			wantRaces: true,
			wantStats: true,
		},
		{
			name:      "races are best effort",
			api:       &fakeAPI{racesErr: errors.New("no races")},
			wantCalls: []string{"status", "venues", "races", "stats"},
			wantStats: true,
		},
		{
			name:      "stats are best effort",
			api:       &fakeAPI{statsErr: boatrace.ErrNetworkUnavailable},
			wantCalls: []string{"status", "venues", "races", "stats"},
			wantRaces: true,
		},
		{
			name:      "status failure stops the load",
			api:       &fakeAPI{statusErr: boatrace.ErrNetworkUnavailable},
			wantCalls: []string{"status"},
			wantErr:   boatrace.ErrNetworkUnavailable,
		},
		{
			name:      "venues failure",
			api:       &fakeAPI{venuesErr: errors.New("boom")},
			wantCalls: []string{"status", "venues"},
			wantErr:   errors.New("boom"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewDataLoader(tt.api, zerolog.Nop())
			snap, err := loader.LoadInitial(context.Background(), tt.sel)
			assert.Equal(t, tt.wantCalls, tt.api.calls)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr.Error())
				assert.Nil(t, snap)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, snap.Status)
			assert.Equal(t, "operational", snap.Status.SystemStatus)
			assert.Len(t, snap.Venues, 1)
			assert.Equal(t, tt.sel, snap.Selection)
			assert.False(t, snap.FetchedAt.IsZero())
			if tt.wantRaces {
				assert.Len(t, snap.Races, 1)
			} else {
				assert.Empty(t, snap.Races)
			}
			if tt.wantStats {
				require.NotNil(t, snap.Stats)
				assert.Equal(t, 0.25, snap.Stats.WinRate)
			} else {
				assert.Nil(t, snap.Stats)
			}
		})
	}
}

func TestDataLoader_LoadLatest(t *testing.T) {
	api := &fakeAPI{}
	loader := NewDataLoader(api, zerolog.Nop())

	snap, err := loader.LoadLatest(context.Background(), Selection{VenueCode: "12", RaceNumber: 7})
	require.NoError(t, err)
	assert.Equal(t, []string{"venues", "entries"}, api.calls)
	assert.Nil(t, snap.Status)
	require.NotNil(t, snap.Entries)
	assert.Equal(t, "12", snap.Entries.VenueCode)
	assert.Equal(t, 7, snap.Entries.RaceNumber)

	// Venue without a race fetches no entries.
	api.calls = nil
	snap, err = loader.LoadLatest(context.Background(), Selection{VenueCode: "12"})
	require.NoError(t, err)
	assert.Equal(t, []string{"venues"}, api.calls)
	assert.Nil(t, snap.Entries)
}

func TestDataLoader_EntriesErrorIsWrapped(t *testing.T) {
	api := &fakeAPI{entriesErr: &boatrace.RequestFailedError{URL: "http://api.test/race-entries/01/1", StatusCode: 500}}
	loader := NewDataLoader(api, zerolog.Nop())

	_, err := loader.LoadLatest(context.Background(), Selection{VenueCode: "01", RaceNumber: 1})
	require.Error(t, err)
	var rfe *boatrace.RequestFailedError
	require.ErrorAs(t, err, &rfe)
	assert.Equal(t, 500, rfe.StatusCode)
	assert.Contains(t, err.Error(), "load entries for 01 1R")
}
