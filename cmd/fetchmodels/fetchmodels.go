// Package fetchmodels implements the model weight download command.
package fetchmodels

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drawee/drawee-go/internal/classifier"
	"github.com/drawee/drawee-go/internal/conf"
)

// Command creates the fetch-models command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-models",
		Short: "Download missing model weights",
		Long:  "Download the weights of both models from the configured weight source unless they already exist locally.",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := classifier.FetchWeights(cmd.Context(), settings, nil)
			for _, p := range paths {
				fmt.Fprintf(cmd.OutOrStdout(), "ready: %s\n", p)
			}
			return err
		},
	}
}
