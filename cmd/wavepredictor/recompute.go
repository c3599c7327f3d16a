package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/wavepredictor/boatrace"
)

func newRecomputeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <racers.json>",
		Short: "Ask the AI for a fresh prediction from edited racer data (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			racers, err := readRacers(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			p, err := a.client().UpdateAIPrediction(cmd.Context(), racers)
			if err != nil {
				return err
			}
			return renderPrediction(cmd.OutOrStdout(), p)
		},
	}
}

// readRacers accepts either a bare array or {"racers": [...]}.
func readRacers(stdin io.Reader, path string) ([]boatrace.RacerInput, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read racers: %w", err)
	}

	var racers []boatrace.RacerInput
	if err := json.Unmarshal(data, &racers); err == nil {
		return racers, nil
	}
	var wrapped struct {
		Racers []boatrace.RacerInput `json:"racers"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse racers: %w", err)
	}
	return wrapped.Racers, nil
}
