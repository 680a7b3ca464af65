/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"github.com/spf13/cobra"

	"github.com/friendsincode/carbonwise/internal/eventbus"
	"github.com/friendsincode/carbonwise/internal/executor"
	"github.com/friendsincode/carbonwise/internal/server"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run dispatched jobs received over NATS",
	Long: `Join the NATS worker queue and run dispatched jobs on local slots,
reporting completions and failures back to the scheduler.

The scheduler must run with CARBONWISE_EXECUTOR=nats.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	nodeID := cfg.InstanceID
	if nodeID == "" {
		nodeID = eventbus.NodeID()
	}
	conn, err := server.ConnectNATS(cfg, "carbonwise-worker-"+nodeID, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	local := executor.NewLocal(cfg.ExecutorSlots, cfg.ExecutorScale, logger)
	defer local.Close()

	worker := executor.NewWorker(conn, executor.DefaultSubjects(), local, logger)
	if err := worker.Start(); err != nil {
		return err
	}
	logger.Info().
		Str("node_id", nodeID).
		Int("slots", cfg.ExecutorSlots).
		Msg("worker started")

	waitForSignal()

	logger.Info().Msg("worker stopping")
	return worker.Stop()
}
