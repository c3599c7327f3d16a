package main

import (
	"github.com/spf13/cobra"
)

func newPredictionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prediction <raceID>",
		Short: "Show the AI prediction for a race",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.client().Prediction(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return renderPrediction(cmd.OutOrStdout(), p)
		},
	}
}
