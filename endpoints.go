package boatrace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// decodeInto unwraps the backend envelope, if any, and decodes the payload
// into out.
func (c *Client) decodeInto(path string, raw json.RawMessage, out any) error {
	payload := raw
	if len(raw) > 0 && raw[0] == '{' {
		var env envelope
		if err := json.Unmarshal(raw, &env); err == nil && (env.Success != nil || env.Data != nil) {
			if env.Success != nil && !*env.Success && env.Error != "" {
				return &RequestFailedError{URL: c.baseURL + path, StatusCode: env.StatusCode, Err: errors.New(env.Error)}
			}
			if env.Data != nil {
				payload = env.Data
			}
		}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &MalformedResponseError{URL: c.baseURL + path, Err: err}
	}
	return nil
}

func (c *Client) getInto(ctx context.Context, path string, out any) error {
	raw, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	return c.decodeInto(path, raw, out)
}

func validateVenue(code string) error {
	n, err := strconv.Atoi(code)
	if err != nil || len(code) != 2 || n < 1 || n > 24 {
		return fmt.Errorf("%w: venue code %q must be 01-24", ErrInvalidArgument, code)
	}
	return nil
}

func validateRace(race int) error {
	if race < 1 || race > 12 {
		return fmt.Errorf("%w: race number %d must be 1-12", ErrInvalidArgument, race)
	}
	return nil
}

// ValidateRace checks a venue code and race number the way the race card
// endpoints do, without making a request.
func ValidateRace(venue string, race int) error {
	if err := validateVenue(venue); err != nil {
		return err
	}
	return validateRace(race)
}

// Venues fetches all venues keyed by code.
func (c *Client) Venues(ctx context.Context) (Venues, error) {
	const path = "/venues"
	var venues Venues
	if err := c.getInto(ctx, path, &venues); err != nil {
		return nil, err
	}
	if len(venues) == 0 {
		return nil, &MalformedResponseError{URL: c.baseURL + path, Err: errors.New("no venues")}
	}
	for code, v := range venues {
		v.Code = code
		venues[code] = v
	}
	return venues, nil
}

// TodayRaces fetches the day's race schedule.
func (c *Client) TodayRaces(ctx context.Context) ([]RaceSummary, error) {
	return c.races(ctx, "/races/today")
}

// RacesByDate fetches the race schedule of the given day.
func (c *Client) RacesByDate(ctx context.Context, date time.Time) ([]RaceSummary, error) {
	return c.races(ctx, "/races/"+raceDate(date))
}

// races accepts both a bare array and {"races": [...]}.
func (c *Client) races(ctx context.Context, path string) ([]RaceSummary, error) {
	var payload json.RawMessage
	if err := c.getInto(ctx, path, &payload); err != nil {
		return nil, err
	}

	var races []RaceSummary
	if len(payload) > 0 && payload[0] == '[' {
		if err := json.Unmarshal(payload, &races); err != nil {
			return nil, &MalformedResponseError{URL: c.baseURL + path, Err: err}
		}
		return races, nil
	}

	var wrapped struct {
		Races *[]RaceSummary `json:"races"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, &MalformedResponseError{URL: c.baseURL + path, Err: err}
	}
	if wrapped.Races == nil {
		return nil, &MalformedResponseError{URL: c.baseURL + path, Err: errors.New("missing races")}
	}
	return *wrapped.Races, nil
}

// Prediction fetches the AI prediction for raceID.
func (c *Client) Prediction(ctx context.Context, raceID string) (*Prediction, error) {
	if raceID == "" {
		return nil, fmt.Errorf("%w: empty race id", ErrInvalidArgument)
	}
	path := "/prediction/" + url.PathEscape(raceID)
	raw, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return c.decodePrediction(path, raw)
}

// UpdateAIPrediction asks the backend to recompute a prediction for racers.
func (c *Client) UpdateAIPrediction(ctx context.Context, racers []RacerInput) (*Prediction, error) {
	if len(racers) == 0 {
		return nil, fmt.Errorf("%w: no racers", ErrInvalidArgument)
	}
	const path = "/ai-prediction-simple"
	raw, err := c.Post(ctx, path, map[string]any{"racers": racers})
	if err != nil {
		return nil, err
	}
	return c.decodePrediction(path, raw)
}

// decodePrediction accepts the prediction itself or one nested under
// "ai_predictions".
func (c *Client) decodePrediction(path string, raw json.RawMessage) (*Prediction, error) {
	var body struct {
		Prediction
		AIPredictions *Prediction `json:"ai_predictions"`
	}
	if err := c.decodeInto(path, raw, &body); err != nil {
		return nil, err
	}

	p := body.Prediction
	if len(p.Predictions) == 0 && body.AIPredictions != nil {
		nested := *body.AIPredictions
		if nested.RaceID == "" {
			nested.RaceID = p.RaceID
		}
		p = nested
	}
	if len(p.Predictions) == 0 {
		return nil, &MalformedResponseError{URL: c.baseURL + path, Err: errors.New("missing predictions")}
	}
	return &p, nil
}

// RaceData fetches a race card through the query-string endpoint. A zero
// date means today.
func (c *Client) RaceData(ctx context.Context, venue string, race int, date time.Time) (*RaceEntries, error) {
	if err := validateVenue(venue); err != nil {
		return nil, err
	}
	if err := validateRace(race); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("venue", venue)
	q.Set("race", strconv.Itoa(race))
	if !date.IsZero() {
		q.Set("date", raceDate(date))
	}
	return c.entries(ctx, "/race-data?"+q.Encode())
}

// RaceEntries fetches the race card of one race.
func (c *Client) RaceEntries(ctx context.Context, venue string, race int) (*RaceEntries, error) {
	if err := validateVenue(venue); err != nil {
		return nil, err
	}
	if err := validateRace(race); err != nil {
		return nil, err
	}
	return c.entries(ctx, fmt.Sprintf("/race-entries/%s/%d", venue, race))
}

func (c *Client) entries(ctx context.Context, path string) (*RaceEntries, error) {
	var e RaceEntries
	if err := c.getInto(ctx, path, &e); err != nil {
		return nil, err
	}
	if len(e.Extraction.Racers) == 0 {
		return nil, &MalformedResponseError{URL: c.baseURL + path, Err: errors.New("missing racers")}
	}
	for i := range e.Extraction.Racers {
		e.Extraction.Racers[i].normalize()
	}
	return &e, nil
}

func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var s SystemStatus
	if err := c.getInto(ctx, "/system-status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) VenueStatus(ctx context.Context) (VenueStatus, error) {
	var s VenueStatus
	if err := c.getInto(ctx, "/venue-status", &s); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Client) ScrapingStatus(ctx context.Context) (*ScrapingStatus, error) {
	var s ScrapingStatus
	if err := c.getInto(ctx, "/scraping-status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// PerformanceStats fetches hit rates over the last days days.
func (c *Client) PerformanceStats(ctx context.Context, days int) (*PerformanceStats, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", ErrInvalidArgument)
	}
	var s PerformanceStats
	if err := c.getInto(ctx, "/stats?days="+strconv.Itoa(days), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DailyReport fetches the prediction report of the given day.
func (c *Client) DailyReport(ctx context.Context, date time.Time) (*DailyReport, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: empty report date", ErrInvalidArgument)
	}
	var r DailyReport
	if err := c.getInto(ctx, "/report/"+raceDate(date), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DailySchedule fetches every venue's race schedule for a day. A zero date
// asks for today's.
func (c *Client) DailySchedule(ctx context.Context, date time.Time) (*DailySchedule, error) {
	path := "/daily-schedule"
	if !date.IsZero() {
		path += "?date=" + raceDate(date)
	}
	var s DailySchedule
	if err := c.getInto(ctx, path, &s); err != nil {
		return nil, err
	}
	if s.Venues == nil {
		return nil, &MalformedResponseError{URL: c.baseURL + path, Err: errors.New("missing venues")}
	}
	return &s, nil
}
