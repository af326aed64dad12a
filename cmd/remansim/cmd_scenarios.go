package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"remansim/internal/sim/tuning"
)

func newScenariosCmd(a *app) *cobra.Command {
	var show string
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List available scenarios or show one in full",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := tuning.Load(a.scenarios)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if show != "" {
				sc, err := set.Get(show)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return json.NewEncoder(out).Encode(sc)
				}
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(map[string]map[string]tuning.Scenario{"scenarios": {sc.Name: sc}}); err != nil {
					return err
				}
				return enc.Close()
			}

			if a.jsonOut {
				return json.NewEncoder(out).Encode(set)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tDAYS\tPOP\tREMAN\tDESCRIPTION")
			for _, name := range set.Names() {
				sc := set[name]
				fmt.Fprintf(tw, "%s\t%d\t%d\t%t\t%s\n", name, sc.Main.SimulationLength, sc.Main.Population, sc.Main.EnableReman, sc.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&show, "show", "", "print one scenario as a loadable YAML document")
	return cmd
}
