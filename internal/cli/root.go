package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brollyhub/screenrec/internal/app"
	"github.com/brollyhub/screenrec/internal/version"
)

type Dependencies struct {
	// Load builds the App from a config file path ("" for the default).
	Load func(configPath string) (*app.App, error)
	App  *app.App
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "screenrec",
		Short: "Record the screen for a fixed amount of time",
		Long: "A CLI tool that records the screen (with optional microphone and webcam overlay) for a\n" +
			"configured duration, stops automatically when time runs out, and saves the result as MP4.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || deps.App != nil {
				return nil
			}
			if deps.Load == nil {
				return fmt.Errorf("no configuration loader")
			}
			a, err := deps.Load(configPath)
			if err != nil {
				return err
			}
			deps.App = a
			return nil
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default $XDG_CONFIG_HOME/screenrec/config.yaml)")

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewPauseCmd(deps))
	rootCmd.AddCommand(NewResumeCmd(deps))
	rootCmd.AddCommand(NewStopCmd(deps))
	rootCmd.AddCommand(NewStatusCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))
	rootCmd.AddCommand(NewListCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
