package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"netdiag/internal/pattern"
)

var patternsOpts struct {
	pattern string
	nodes   []string
}

// patternsCmd previews the edges a pattern produces
var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List patterns or preview the edges of one",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(patternsOpts.nodes) == 0 {
			for _, kind := range pattern.Kinds() {
				fmt.Fprintln(out, kind)
			}
			return nil
		}

		nodes, err := trimNodes(patternsOpts.nodes)
		if err != nil {
			return err
		}
		edges, err := pattern.Generate(patternsOpts.pattern, nodes)
		if err != nil {
			return err
		}
		for _, e := range edges {
			fmt.Fprintln(out, e)
		}
		fmt.Fprintf(out, "%d edges\n", len(edges))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(patternsCmd)

	patternsCmd.Flags().StringVarP(&patternsOpts.pattern, "pattern", "p", string(pattern.Ring), "pattern to preview")
	patternsCmd.Flags().StringSliceVar(&patternsOpts.nodes, "nodes", nil, "comma separated node names")
}
