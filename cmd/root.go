package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/drawee/drawee-go/cmd/classify"
	"github.com/drawee/drawee-go/cmd/fetchmodels"
	"github.com/drawee/drawee-go/cmd/migrate"
	"github.com/drawee/drawee-go/cmd/serve"
	"github.com/drawee/drawee-go/cmd/stages"
	"github.com/drawee/drawee-go/cmd/summary"
	"github.com/drawee/drawee-go/internal/app"
	"github.com/drawee/drawee-go/internal/buildinfo"
	"github.com/drawee/drawee-go/internal/conf"
)

// RootCommand creates and returns the root command. settings is filled in
// before any subcommand that needs configuration runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "drawee",
		Short:         "Drawee children's drawing development stage classifier",
		Version:       buildinfo.Current().GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up the global flags for the root command.
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search standard locations)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(fmt.Sprintf("error binding flags: %v", err))
	}

	stagesCmd := stages.Command()

	subcommands := []*cobra.Command{
		serve.Command(settings),
		classify.Command(settings),
		summary.Command(settings),
		migrate.Command(settings),
		fetchmodels.Command(settings),
		stagesCmd,
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// The stage catalog is embedded and needs no configuration
		if cmd.Name() == stagesCmd.Name() {
			return nil
		}
		return initialize(settings, configFile)
	}

	return rootCmd
}

// initialize loads configuration and sets up logging before a subcommand runs.
func initialize(settings *conf.Settings, configFile string) error {
	if configFile != "" {
		conf.SetConfigFile(configFile)
	}

	loaded, err := conf.Load()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	*settings = *loaded

	if _, err := app.SetupLogging(settings); err != nil {
		return fmt.Errorf("error initializing logging: %w", err)
	}
	return nil
}
