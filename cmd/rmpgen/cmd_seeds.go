package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSeedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seeds PROP_FILE_DIRECTORY",
		Short: "Print the seeds a batch would run",
		Long: `Resolve seeds exactly as a batch would: an explicit --seed-list wins,
then --gen-seed, then BASE_SEED and NUM_RUNS from the configuration.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			literal, _ := cmd.Flags().GetBool("literal")

			cfg, err := loadConfig(cmd, args[0])
			if err != nil {
				return err
			}
			resolution, err := resolveSeeds(cmd, cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case jsonOut:
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"source":    resolution.Source,
					"base_seed": resolution.BaseSeed,
					"count":     resolution.Count,
					"seeds":     resolution.Seeds,
				})
			case literal:
				fmt.Fprintln(out, seedListLiteral(resolution.Seeds))
			default:
				for _, s := range resolution.Seeds {
					fmt.Fprintln(out, s)
				}
			}
			return nil
		},
	}
	addSeedFlags(cmd)
	cmd.Flags().Bool("literal", false, "Print a single -seedList= argument")
	return cmd
}
