package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRacesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "races [date]",
		Short: "List today's races, or the races of a date (YYYYMMDD or YYYY-MM-DD)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := a.client()
			if len(args) == 0 {
				races, err := client.TodayRaces(cmd.Context())
				if err != nil {
					return err
				}
				return renderRaces(cmd.OutOrStdout(), races)
			}

			date, err := parseDate(args[0])
			if err != nil {
				return err
			}
			races, err := client.RacesByDate(cmd.Context(), date)
			if err != nil {
				return err
			}
			return renderRaces(cmd.OutOrStdout(), races)
		},
	}
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"20060102", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, want YYYYMMDD or YYYY-MM-DD", s)
}
