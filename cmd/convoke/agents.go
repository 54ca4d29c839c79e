package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents <scenario.yaml>",
	Short: "List the agent roster declared by a scenario",
	Long: `Display the simulated producers and critics a scenario would register,
with their capabilities and scripted behavior, without running any jobs.`,
	Args: cobra.ExactArgs(1),
	RunE: runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
	sc, err := LoadScenario(args[0])
	if err != nil {
		return err
	}

	bold := color.New(color.Bold)

	bold.Printf("Producers (%d)\n", len(sc.Producers))
	for _, p := range sc.Producers {
		line := fmt.Sprintf("  %s: [%s] base=%.2f improve=%.2f",
			p.ID, strings.Join(p.Capabilities, ", "), p.BaseScore, p.ImprovePerRound)
		if p.BidCost > 0 {
			line += fmt.Sprintf(" bid=%.2f", p.BidCost)
		}
		if p.Mute {
			color.Red("%s (mute)", line)
			continue
		}
		fmt.Println(line)
	}

	fmt.Println()
	bold.Printf("Critics (%d)\n", len(sc.Critics))
	if len(sc.Critics) == 0 {
		fmt.Println("  none; jobs will escalate without countable votes")
	}
	for _, c := range sc.Critics {
		line := fmt.Sprintf("  %s: [%s] scores=%v",
			c.ID, strings.Join(c.Capabilities, ", "), c.Scores)
		if len(c.Findings) > 0 {
			line += fmt.Sprintf(" findings=%d", len(c.Findings))
			if c.CleanAfter > 0 {
				line += fmt.Sprintf(" clean-after=%d", c.CleanAfter)
			}
		}
		fmt.Println(line)
	}
	return nil
}
