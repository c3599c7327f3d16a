package boatrace

import (
	"encoding/json"
	"sort"
	"time"
)

// envelope is the wrapper the backend puts around most payloads.
type envelope struct {
	Success    *bool           `json:"success"`
	StatusCode int             `json:"status_code"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Message    string          `json:"message"`
	Timestamp  string          `json:"timestamp"`
}

// ID is an identifier the backend sends either as a number or a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Venue is one of the 24 boat-race stadiums.
type Venue struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// Venues maps venue code ("01".."24") to venue.
type Venues map[string]Venue

// Sorted returns the venues ordered by code.
func (v Venues) Sorted() []Venue {
	out := make([]Venue, 0, len(v))
	for code, venue := range v {
		venue.Code = code
		out = append(out, venue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// RaceSummary is one scheduled race of the day.
type RaceSummary struct {
	RaceID        string `json:"race_id"`
	VenueCode     string `json:"venue_code"`
	VenueName     string `json:"venue_name"`
	RaceNumber    int    `json:"race_number"`
	ScheduledTime string `json:"scheduled_time"`
	IsActive      bool   `json:"is_active"`
}

// BoatPrediction is the model's view of a single boat.
type BoatPrediction struct {
	RacerID           ID        `json:"racer_id"`
	BoatNumber        int       `json:"boat_number"`
	PredictedRank     int       `json:"predicted_rank"`
	RankProbabilities []float64 `json:"rank_probabilities"`
	ExpectedValue     float64   `json:"expected_value"`
	Confidence        float64   `json:"confidence"`
}

// Pick is a recommended bet: a single boat or an ordered combination.
type Pick struct {
	BoatNumber  int     `json:"boat_number,omitempty"`
	Combination []int   `json:"combination,omitempty"`
	Confidence  float64 `json:"confidence"`
}

type Forecast struct {
	Win      *Pick `json:"win,omitempty"`
	Quinella *Pick `json:"quinella,omitempty"`
	Exacta   *Pick `json:"exacta,omitempty"`
	Trio     *Pick `json:"trio,omitempty"`
}

type RiskAnalysis struct {
	StabilityScore   float64 `json:"stability_score"`
	UpsetProbability float64 `json:"upset_probability"`
	Reliability      string  `json:"reliability"`
}

// Prediction is the AI prediction for one race.
type Prediction struct {
	RaceID       string           `json:"race_id"`
	Predictions  []BoatPrediction `json:"predictions"`
	Forecast     *Forecast        `json:"forecast,omitempty"`
	RiskAnalysis *RiskAnalysis    `json:"risk_analysis,omitempty"`
}

// Ranked returns the boat predictions ordered by predicted rank, ties broken
// by boat number.
func (p *Prediction) Ranked() []BoatPrediction {
	out := append([]BoatPrediction(nil), p.Predictions...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PredictedRank != out[j].PredictedRank {
			return out[i].PredictedRank < out[j].PredictedRank
		}
		return out[i].BoatNumber < out[j].BoatNumber
	})
	return out
}

// Racer is one entry in a race card.
type Racer struct {
	BoatNumber  int    `json:"boat_number"`
	RacerID     ID     `json:"racer_id,omitempty"`
	Name        string `json:"name"`
	Class       string `json:"class"`
	Age         int    `json:"age,omitempty"`
	Weight      string `json:"weight,omitempty"`
	Region      string `json:"region,omitempty"`
	Branch      string `json:"branch,omitempty"`
	MotorNumber ID     `json:"motor_number,omitempty"`
	BoatID      ID     `json:"boat_id,omitempty"`

	RacerName  string `json:"racer_name,omitempty"`
	RacerClass string `json:"racer_class,omitempty"`
}

// normalize copies the scraper's field names onto the display names.
func (r *Racer) normalize() {
	if r.Name == "" {
		r.Name = r.RacerName
	}
	if r.Class == "" {
		r.Class = r.RacerClass
	}
	r.RacerName, r.RacerClass = "", ""
}

// RaceEntries is the race card for one race.
type RaceEntries struct {
	VenueCode  string `json:"venue_code"`
	VenueName  string `json:"venue_name"`
	RaceNumber int    `json:"race_number"`
	RaceDate   string `json:"race_date"`
	DataSource string `json:"data_source,omitempty"`
	Extraction struct {
		Status string  `json:"status"`
		Racers []Racer `json:"racers"`
	} `json:"racer_extraction"`
}

func (e *RaceEntries) Racers() []Racer {
	return e.Extraction.Racers
}

// SystemStatus is the backend's /system-status payload.
type SystemStatus struct {
	SystemStatus string `json:"system_status"`
	Version      string `json:"version"`
	AIAvailable  bool   `json:"ai_available"`
	Uptime       struct {
		Seconds   float64 `json:"seconds"`
		Formatted string  `json:"formatted"`
	} `json:"uptime"`
	Scraping struct {
		DailyCount    int     `json:"daily_count"`
		DailyLimit    int     `json:"daily_limit"`
		SuccessRate   float64 `json:"success_rate"`
		CacheOnlyMode bool    `json:"cache_only_mode"`
		CanScrape     bool    `json:"can_scrape"`
	} `json:"scraping_status"`
	Performance struct {
		TotalRequests   int     `json:"total_requests"`
		ErrorCount      int     `json:"error_count"`
		AvgResponseTime float64 `json:"avg_response_time"`
		SuccessRate     float64 `json:"success_rate"`
	} `json:"performance"`
}

// ScrapingStatus is the backend's /scraping-status payload.
type ScrapingStatus struct {
	Date   string `json:"date"`
	Limits struct {
		DailyCount    int  `json:"daily_count"`
		DailyLimit    int  `json:"daily_limit"`
		Remaining     int  `json:"remaining"`
		CacheOnlyMode bool `json:"cache_only_mode"`
	} `json:"limits"`
	Statistics struct {
		TotalAttempts      int     `json:"total_attempts"`
		Successful         int     `json:"successful"`
		SuccessRate        float64 `json:"success_rate"`
		AvgResponseTime    float64 `json:"avg_response_time"`
		TotalDataRetrieved int     `json:"total_data_retrieved"`
	} `json:"statistics"`
	Recommendations []string `json:"recommendations"`
}

// VenueStatus is keyed by venue code; the per-venue shape is left to the
// renderer.
type VenueStatus map[string]json.RawMessage

// PerformanceStats summarises historic hit rates.
type PerformanceStats struct {
	WinRate      float64 `json:"win_rate"`
	ExactaRate   float64 `json:"exacta_rate"`
	TrifectaRate float64 `json:"trifecta_rate"`
	AvgPayout    float64 `json:"avg_payout"`
}

// DailyReport compares a day's predictions with the results.
type DailyReport struct {
	Date           string `json:"date"`
	TotalRaces     int    `json:"total_races"`
	FinishedRaces  int    `json:"finished_races"`
	PredictedRaces int    `json:"predicted_races"`
	HitRates       struct {
		Win      float64 `json:"win"`
		Exacta   float64 `json:"exacta"`
		Quinella float64 `json:"quinella"`
		Trio     float64 `json:"trio"`
	} `json:"hit_rates"`
	RaceDetails map[string]ReportedRace `json:"race_details"`
}

// ReportedRace is one race of a DailyReport. Prediction, result and
// evaluation are null until the race has them.
type ReportedRace struct {
	Venue      string          `json:"venue"`
	RaceNumber int             `json:"race_number"`
	Prediction json.RawMessage `json:"prediction"`
	Result     json.RawMessage `json:"result"`
	Evaluation json.RawMessage `json:"evaluation"`
}

// DailySchedule is the backend's /daily-schedule payload, grouped by venue.
type DailySchedule struct {
	Date        string                   `json:"date"`
	Venues      map[string]ScheduleVenue `json:"venues"`
	TotalVenues int                      `json:"total_venues"`
	TotalRaces  int                      `json:"total_races"`
}

type ScheduleVenue struct {
	VenueCode string `json:"venue_code"`
	VenueName string `json:"venue_name"`
	IsActive  bool   `json:"is_active"`
	Races     []struct {
		RaceNumber    int    `json:"race_number"`
		ScheduledTime string `json:"scheduled_time"`
		Status        string `json:"status"`
	} `json:"races"`
}

// RacerInput is what UpdateAIPrediction sends for each boat.
type RacerInput struct {
	BoatNumber int    `json:"boat_number"`
	Name       string `json:"name"`
	Class      string `json:"class"`
}

// raceDate formats t the way the backend expects dates.
func raceDate(t time.Time) string {
	return t.Format("20060102")
}
