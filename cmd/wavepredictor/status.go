package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:       "status [system|venue|scraping|stats]",
		Short:     "Show backend status",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"system", "venue", "scraping", "stats"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "system"
			if len(args) == 1 {
				kind = args[0]
			}

			client := a.client()
			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			switch kind {
			case "venue":
				s, err := client.VenueStatus(ctx)
				if err != nil {
					return err
				}
				return renderVenueStatus(out, s)
			case "scraping":
				s, err := client.ScrapingStatus(ctx)
				if err != nil {
					return err
				}
				return renderScrapingStatus(out, s)
			case "stats":
				s, err := client.PerformanceStats(ctx, days)
				if err != nil {
					return err
				}
				return renderStats(out, days, s)
			case "system":
				s, err := client.SystemStatus(ctx)
				if err != nil {
					return err
				}
				return renderSystemStatus(out, s)
			}
			return fmt.Errorf("unknown status %q", kind)
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "window for stats")
	return cmd
}
