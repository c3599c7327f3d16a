package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newReportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "report [date]",
		Short: "Show the prediction report of today or of a date",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now()
			if len(args) == 1 {
				var err error
				if date, err = parseDate(args[0]); err != nil {
					return err
				}
			}
			r, err := a.client().DailyReport(cmd.Context(), date)
			if err != nil {
				return err
			}
			return renderReport(cmd.OutOrStdout(), r)
		},
	}
}

func newScheduleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule [date]",
		Short: "Show every venue's race schedule for today or a date",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var date time.Time
			if len(args) == 1 {
				var err error
				if date, err = parseDate(args[0]); err != nil {
					return err
				}
			}
			s, err := a.client().DailySchedule(cmd.Context(), date)
			if err != nil {
				return err
			}
			return renderSchedule(cmd.OutOrStdout(), s)
		},
	}
}
