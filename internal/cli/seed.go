package cli

import (
	"fmt"
	"sort"

	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/app"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/domain"
	"github.com/SHIVANSHTHAKUR1/logistics-agentic/internal/fixtures"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// SeedCmd returns the seed command.
func SeedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load YAML fixtures into the database",
		Long: `Create the records of a fixture file in order. Records can name themselves
with "ref" and later records refer to them with "@ref" in id fields.

Examples:
  opsctl seed --file fixtures.yaml
  opsctl seed --file fixtures.yaml --db /tmp/demo.db`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := fixtures.LoadFile(file)
			if err != nil {
				return err
			}

			a, _, err := openApp(cmd, app.Options{Offline: true, NoTranscript: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := fixtures.Seed(cmd.Context(), a.Store, f)
			printSeedResult(cmd, res)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s seeded %d records\n", color.New(color.FgGreen).Sprint("✓"), total(res.Created))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "fixture file")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func printSeedResult(cmd *cobra.Command, res fixtures.Result) {
	entities := make([]string, 0, len(res.Created))
	for e := range res.Created {
		entities = append(entities, string(e))
	}
	sort.Strings(entities)
	for _, e := range entities {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-16s %d\n", e, res.Created[domain.EntityType(e)])
	}
}

func total(created map[domain.EntityType]int) int {
	n := 0
	for _, c := range created {
		n += c
	}
	return n
}
