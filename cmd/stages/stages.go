// Package stages implements the command listing the developmental stages.
package stages

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drawee/drawee-go/internal/stage"
)

// Command creates the stages command.
func Command() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stages",
		Short: "List the developmental stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := stage.Default()
			if err != nil {
				return err
			}
			return Print(cmd.OutOrStdout(), catalog.Entries(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full catalog as JSON")

	return cmd
}

// Print writes the stage list as a table or as JSON.
func Print(w io.Writer, entries []stage.Info, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tSTAGE\tAGES")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.Stage.Index(), e.Name, e.Ages)
	}
	return tw.Flush()
}
