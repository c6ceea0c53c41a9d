// Package summary implements the child summary command.
package summary

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drawee/drawee-go/internal/aggregate"
	"github.com/drawee/drawee-go/internal/app"
	"github.com/drawee/drawee-go/internal/conf"
)

// Command creates the summary command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		owner   string
		childID string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize a child's classified drawings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Build(cmd.Context(), settings, nil, app.Options{SkipEvents: true})
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Service.Summarize(cmd.Context(), owner, childID)
			if err != nil {
				return err
			}
			return Print(cmd.OutOrStdout(), s, asJSON)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "cli", "Owner id of the child")
	cmd.Flags().StringVar(&childID, "child", "", "Child id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	_ = cmd.MarkFlagRequired("child")

	return cmd
}

// Print writes a summary in text or JSON form.
func Print(w io.Writer, s *aggregate.Summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	if s.Empty {
		_, err := io.WriteString(w, "No drawings have been analyzed for this child yet.\n")
		return err
	}

	var b strings.Builder
	b.WriteString(s.Header)
	b.WriteString("\n")
	for _, line := range s.Lines {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	if s.Insight != "" {
		fmt.Fprintf(&b, "\n%s\n", s.Insight)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
