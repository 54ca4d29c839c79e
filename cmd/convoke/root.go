package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "convoke",
	Short: "Multi-agent task orchestration and quality-consensus engine",
	Long: `Convoke coordinates pools of agents on decomposed jobs and gates
every result through iterative multi-critic consensus.

Jobs declare coordination traits; the engine picks one of six protocols
(hierarchical, peer, blackboard, contract-net, swarm, consensus), runs it
over the registered agents, and validates the candidate artifact with
weighted critic votes until it clears the quality threshold or the
iteration budget escalates it.

Core capabilities:
- Capability-based agent registry with heartbeat liveness
- Typed agent-to-agent messaging with per-conversation ordering
- Trait-driven protocol selection and bounded task reassignment
- Iterative propose/evaluate/revise consensus with blocking-finding veto
- Performance-weighted critic votes and deterministic escalation`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: XDG + project lookup)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
