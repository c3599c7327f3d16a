package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/wavepredictor/boatrace"
	"github.com/wavepredictor/boatrace/pkg/refresh"
)

const timeLayout = "2006-01-02T15:04:05"

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func renderVenues(w io.Writer, venues boatrace.Venues) error {
	if len(venues) == 0 {
		fmt.Fprintln(w, "No venues found.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "CODE\tNAME\tLOCATION")
	for _, v := range venues.Sorted() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Code, v.Name, v.Location)
	}
	return tw.Flush()
}

func renderRaces(w io.Writer, races []boatrace.RaceSummary) error {
	if len(races) == 0 {
		fmt.Fprintln(w, "No races found.")
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "RACE ID\tVENUE\tRACE\tSCHEDULED\tACTIVE")
	for _, r := range races {
		fmt.Fprintf(tw, "%s\t%s %s\t%dR\t%s\t%t\n",
			r.RaceID, r.VenueCode, r.VenueName, r.RaceNumber, r.ScheduledTime, r.IsActive)
	}
	return tw.Flush()
}

func renderPrediction(w io.Writer, p *boatrace.Prediction) error {
	fmt.Fprintf(w, "Race %s\n", p.RaceID)
	tw := newTable(w)
	fmt.Fprintln(tw, "RANK\tBOAT\tRACER\tEXPECTED\tCONFIDENCE")
	for _, b := range p.Ranked() {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%.2f\t%.0f%%\n",
			b.PredictedRank, b.BoatNumber, b.RacerID, b.ExpectedValue, b.Confidence*100)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if f := p.Forecast; f != nil {
		fmt.Fprintln(w)
		tw = newTable(w)
		fmt.Fprintln(tw, "BET\tPICK\tCONFIDENCE")
		for _, row := range []struct {
			name string
			pick *boatrace.Pick
		}{
			{"win", f.Win},
			{"quinella", f.Quinella},
			{"exacta", f.Exacta},
			{"trio", f.Trio},
		} {
			if row.pick == nil {
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%.0f%%\n", row.name, formatPick(row.pick), row.pick.Confidence*100)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if r := p.RiskAnalysis; r != nil {
		fmt.Fprintf(w, "\nStability %.2f, upset probability %.0f%%, reliability %s\n",
			r.StabilityScore, r.UpsetProbability*100, r.Reliability)
	}
	return nil
}

func formatPick(p *boatrace.Pick) string {
	if len(p.Combination) == 0 {
		return fmt.Sprint(p.BoatNumber)
	}
	parts := make([]string, len(p.Combination))
	for i, n := range p.Combination {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, "-")
}

func renderEntries(w io.Writer, e *boatrace.RaceEntries) error {
	fmt.Fprintf(w, "%s %s %dR %s\n", e.VenueCode, e.VenueName, e.RaceNumber, e.RaceDate)
	tw := newTable(w)
	fmt.Fprintln(tw, "BOAT\tRACER\tNAME\tCLASS\tAGE\tWEIGHT\tREGION\tMOTOR\tHULL")
	for _, r := range e.Racers() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.BoatNumber, r.RacerID, r.Name, r.Class, r.Age, r.Weight, r.Region, r.MotorNumber, r.BoatID)
	}
	return tw.Flush()
}

func renderSystemStatus(w io.Writer, s *boatrace.SystemStatus) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "status\t%s\n", s.SystemStatus)
	fmt.Fprintf(tw, "version\t%s\n", s.Version)
	fmt.Fprintf(tw, "ai available\t%t\n", s.AIAvailable)
	fmt.Fprintf(tw, "uptime\t%s\n", s.Uptime.Formatted)
	fmt.Fprintf(tw, "scraping\t%d/%d today, can scrape %t\n",
		s.Scraping.DailyCount, s.Scraping.DailyLimit, s.Scraping.CanScrape)
	fmt.Fprintf(tw, "requests\t%d (%d errors, avg %.2fs)\n",
		s.Performance.TotalRequests, s.Performance.ErrorCount, s.Performance.AvgResponseTime)
	return tw.Flush()
}

func renderScrapingStatus(w io.Writer, s *boatrace.ScrapingStatus) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "date\t%s\n", s.Date)
	fmt.Fprintf(tw, "daily\t%d/%d (%d remaining)\n", s.Limits.DailyCount, s.Limits.DailyLimit, s.Limits.Remaining)
	fmt.Fprintf(tw, "cache only\t%t\n", s.Limits.CacheOnlyMode)
	fmt.Fprintf(tw, "attempts\t%d (%d ok, %.0f%%)\n",
		s.Statistics.TotalAttempts, s.Statistics.Successful, s.Statistics.SuccessRate*100)
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, r := range s.Recommendations {
		fmt.Fprintf(w, "- %s\n", r)
	}
	return nil
}

func renderVenueStatus(w io.Writer, s boatrace.VenueStatus) error {
	codes := make([]string, 0, len(s))
	for code := range s {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	tw := newTable(w)
	fmt.Fprintln(tw, "VENUE\tSTATUS")
	for _, code := range codes {
		fmt.Fprintf(tw, "%s\t%s\n", code, compactJSON(s[code]))
	}
	return tw.Flush()
}

func renderStats(w io.Writer, days int, s *boatrace.PerformanceStats) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "last %d days\t\n", days)
	fmt.Fprintf(tw, "win\t%.1f%%\n", s.WinRate*100)
	fmt.Fprintf(tw, "exacta\t%.1f%%\n", s.ExactaRate*100)
	fmt.Fprintf(tw, "trifecta\t%.1f%%\n", s.TrifectaRate*100)
	fmt.Fprintf(tw, "avg payout\t%.0f\n", s.AvgPayout)
	return tw.Flush()
}

func renderReport(w io.Writer, r *boatrace.DailyReport) error {
	fmt.Fprintf(w, "Report %s: %d races, %d finished, %d predicted\n", r.Date, r.TotalRaces, r.FinishedRaces, r.PredictedRaces)
	tw := newTable(w)
	fmt.Fprintf(tw, "win\t%.1f%%\n", r.HitRates.Win*100)
	fmt.Fprintf(tw, "exacta\t%.1f%%\n", r.HitRates.Exacta*100)
	fmt.Fprintf(tw, "quinella\t%.1f%%\n", r.HitRates.Quinella*100)
	fmt.Fprintf(tw, "trio\t%.1f%%\n", r.HitRates.Trio*100)
	return tw.Flush()
}

func renderSchedule(w io.Writer, s *boatrace.DailySchedule) error {
	if len(s.Venues) == 0 {
		fmt.Fprintln(w, "No races scheduled.")
		return nil
	}
	codes := make([]string, 0, len(s.Venues))
	for code := range s.Venues {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	tw := newTable(w)
	fmt.Fprintln(tw, "VENUE\tNAME\tRACE\tSCHEDULED\tSTATUS")
	for _, code := range codes {
		v := s.Venues[code]
		for _, r := range v.Races {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", code, v.VenueName, r.RaceNumber, r.ScheduledTime, r.Status)
		}
	}
	return tw.Flush()
}

func compactJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	if s, ok := v.(string); ok {
		return s
	}
	out, _ := json.Marshal(v)
	return string(out)
}

// renderResult prints one refresh outcome. A failed refresh still shows the
// last good data.
func renderResult(w io.Writer, res refresh.Result, last *refresh.Snapshot) error {
	at := res.At.Format(timeLayout)
	switch {
	case res.Skipped:
		fmt.Fprintf(w, "[%s] %s refresh skipped, one is already running\n", at, res.Trigger)
		return nil
	case res.Err != nil:
		fmt.Fprintf(w, "[%s] %s refresh failed: %v\n", at, res.Trigger, res.Err)
		if last != nil {
			fmt.Fprintf(w, "showing data from %s\n", last.FetchedAt.Format(timeLayout))
		}
		return nil
	}
	fmt.Fprintf(w, "[%s] %s refresh ok\n", at, res.Trigger)
	return renderSnapshot(w, res.Snapshot)
}

func renderSnapshot(w io.Writer, snap *refresh.Snapshot) error {
	if snap == nil {
		return nil
	}
	if snap.Status != nil {
		fmt.Fprintf(w, "system %s, version %s\n", snap.Status.SystemStatus, snap.Status.Version)
	}
	fmt.Fprintf(w, "%d venues", len(snap.Venues))
	if snap.Races != nil {
		fmt.Fprintf(w, ", %d races today", len(snap.Races))
	}
	fmt.Fprintln(w)
	if snap.Stats != nil {
		fmt.Fprintf(w, "hit rate over %d days: win %.1f%%, exacta %.1f%%\n",
			refresh.StatsDays, snap.Stats.WinRate*100, snap.Stats.ExactaRate*100)
	}
	if snap.Entries != nil {
		return renderEntries(w, snap.Entries)
	}
	return nil
}
