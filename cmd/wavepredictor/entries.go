package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wavepredictor/boatrace"
)

func newEntriesCmd(a *app) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "entries <venue> <race>",
		Short: "Show the race card of one race",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			venue := args[0]
			race, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("race must be a number: %w", err)
			}
			if err := boatrace.ValidateRace(venue, race); err != nil {
				return err
			}

			client := a.client()
			var entries *boatrace.RaceEntries
			if date == "" {
				entries, err = client.RaceEntries(cmd.Context(), venue, race)
			} else {
				d, perr := parseDate(date)
				if perr != nil {
					return perr
				}
				entries, err = client.RaceData(cmd.Context(), venue, race, d)
			}
			if err != nil {
				return err
			}
			return renderEntries(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "race date (YYYYMMDD or YYYY-MM-DD), defaults to today")
	return cmd
}
