package main

import (
	"github.com/spf13/cobra"
)

func newVenuesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "venues",
		Short: "List boat race venues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			venues, err := a.client().Venues(cmd.Context())
			if err != nil {
				return err
			}
			return renderVenues(cmd.OutOrStdout(), venues)
		},
	}
}
