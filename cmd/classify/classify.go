// Package classify implements the one-shot drawing classification command.
package classify

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/drawee/drawee-go/internal/app"
	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/drawee"
)

// Command creates the classify command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		owner    string
		child    string
		format   string
		noEvents bool
	)

	cmd := &cobra.Command{
		Use:   "classify [image]",
		Short: "Classify one drawing and store the result",
		Long:  "Classify a drawing file for the named child, creating the child on first use.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "text" {
				return fmt.Errorf("unknown output format %q", format)
			}
			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading %s: %w", args[0], err)
			}

			a, err := app.Build(cmd.Context(), settings, nil, app.Options{SkipEvents: noEvents})
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.Service.ClassifyForName(cmd.Context(), owner, child, image)
			if err != nil {
				return err
			}
			return Print(cmd.OutOrStdout(), c, a.Service.FormatTimestamp(c.Result.CreatedAt), format != "text")
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "cli", "Owner id the result is stored under")
	cmd.Flags().StringVar(&child, "child-name", "", "Child name")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json, text")
	cmd.Flags().BoolVar(&noEvents, "no-events", false, "Do not publish the classification over MQTT")
	_ = cmd.MarkFlagRequired("child-name")

	return cmd
}

// Print writes a classification in text or JSON form.
func Print(w io.Writer, c *drawee.Classification, timestamp string, asJSON bool) error {
	var distribution []float64
	if c.Prediction != nil {
		distribution = c.Prediction.Distribution
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"result_id":    c.Result.ID,
			"child_id":     c.Result.ChildID,
			"stage":        c.Result.Prediction,
			"confidence":   c.Result.Confidence,
			"image_url":    c.ImageURL,
			"timestamp":    timestamp,
			"details":      c.Details,
			"distribution": distribution,
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Stage:      %s (%s)\n", c.Details.Name, c.Details.Ages)
	fmt.Fprintf(&b, "Confidence: %.2f%%\n", c.Result.Confidence)
	fmt.Fprintf(&b, "Stored:     %s\n", timestamp)
	fmt.Fprintf(&b, "Image:      %s\n\n", c.ImageURL)
	fmt.Fprintf(&b, "%s\n", c.Details.Description)
	if len(c.Details.Tips) > 0 {
		b.WriteString("\nTips:\n")
		for _, tip := range c.Details.Tips {
			fmt.Fprintf(&b, "  - %s\n", tip)
		}
	}
	if len(c.Details.Activities) > 0 {
		b.WriteString("\nActivities:\n")
		for _, act := range c.Details.Activities {
			fmt.Fprintf(&b, "  - %s\n", act)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
