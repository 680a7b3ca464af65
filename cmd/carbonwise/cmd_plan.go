/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/carbonwise/internal/footprint"
	"github.com/friendsincode/carbonwise/internal/queue"
	"github.com/friendsincode/carbonwise/internal/scheduler"
	"github.com/friendsincode/carbonwise/internal/server"
)

var (
	planRegion   string
	planDuration time.Duration
	planDeadline string
	planWatts    float64
	planUnits    int
	planCompare  []string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the greenest window for a job without submitting it",
	Long: `Fetch the forecast and print the run-now versus best-window comparison
for a hypothetical job, with estimated emissions.

Examples:
  # When should a two hour job run in Germany?
  carbonwise plan --region DE --duration 2h

  # With a deadline and four 300 W servers
  carbonwise plan --region GB --duration 90m --deadline 2026-03-02T06:00:00Z --units 4 --watts 300

  # Which region is greenest right now?
  carbonwise plan --compare GB,FR,DE
`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planRegion, "region", "", "Grid region (default: CARBONWISE_DEFAULT_REGION)")
	planCmd.Flags().DurationVar(&planDuration, "duration", time.Hour, "Job duration")
	planCmd.Flags().StringVar(&planDeadline, "deadline", "", "Latest finish time (RFC 3339)")
	planCmd.Flags().Float64Var(&planWatts, "watts", 1000, "Power draw per unit in watts")
	planCmd.Flags().IntVar(&planUnits, "units", 1, "Number of units drawing --watts")
	planCmd.Flags().StringSliceVar(&planCompare, "compare", nil, "Compare current intensity across regions instead")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	forecasts, err := server.NewForecasts(cfg, logger)
	if err != nil {
		return err
	}
	defer forecasts.Close()

	// Planning never dispatches; the executor only satisfies the constructor.
	svc := scheduler.New(queue.New(), forecasts.Provider, noopExecutor{}, server.Policy(cfg), logger)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.FetchTimeout+5*time.Second)
	defer cancel()

	var out any
	if len(planCompare) > 0 {
		out, err = svc.CompareRegions(ctx, planCompare)
	} else {
		req := scheduler.PlanRequest{
			Region:   planRegion,
			Duration: planDuration,
			Units:    []footprint.Unit{{Count: planUnits, Watts: planWatts}},
		}
		if planDeadline != "" {
			deadline, perr := time.Parse(time.RFC3339, planDeadline)
			if perr != nil {
				return fmt.Errorf("parse --deadline: %w", perr)
			}
			req.Deadline = &deadline
		}
		out, err = svc.Plan(ctx, req)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type noopExecutor struct{}

func (noopExecutor) Dispatch(context.Context, string, time.Duration) error { return nil }
func (noopExecutor) Cancel(context.Context, string) error                  { return nil }
