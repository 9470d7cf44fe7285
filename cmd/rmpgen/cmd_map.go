package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rmpgen/internal/locmap"
)

func newMapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Inspect location mobility maps",
	}
	cmd.AddCommand(newMapValidateCmd())
	return cmd
}

func newMapValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate CONNECTIONS_FILE",
		Short: "Import a location map and its companion files and report counts",
		Long: `Import CONNECTIONS_FILE together with <stem>_NodeInfo.csv and
<stem>_Away.csv from the same directory, exactly as a batch would, and print
the node, connection and away-table counts. Any format problem is reported
with its file and line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			paths := locmap.CompanionPaths(args[0])
			m, err := locmap.Load(args[0])
			if err != nil {
				return err
			}
			stats := m.Stats()

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"connections_file": paths.Connections,
					"node_info_file":   paths.NodeInfo,
					"away_file":        paths.Away,
					"stats":            stats,
				})
			}

			fmt.Fprintf(out, "connections: %s\n", paths.Connections)
			fmt.Fprintf(out, "node info:   %s\n", paths.NodeInfo)
			fmt.Fprintf(out, "away:        %s\n", paths.Away)
			fmt.Fprintf(out, "%d nodes, %d connections, %d away entries\n",
				stats.Nodes, stats.Connections, stats.AwayEntries)
			return nil
		},
	}
}
