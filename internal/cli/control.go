package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brollyhub/screenrec/internal/control"
	"github.com/brollyhub/screenrec/internal/output"
)

type controlCall func(*control.Client, context.Context) (control.Status, error)

func NewPauseCmd(deps *Dependencies) *cobra.Command {
	return newControlCmd(deps, "pause", "Pause the running recording", (*control.Client).Pause, "Paused")
}

func NewResumeCmd(deps *Dependencies) *cobra.Command {
	return newControlCmd(deps, "resume", "Resume a paused recording", (*control.Client).Resume, "Resumed")
}

func NewStopCmd(deps *Dependencies) *cobra.Command {
	return newControlCmd(deps, "stop", "Stop the running recording and save it", (*control.Client).Stop, "Stop requested")
}

func NewStatusCmd(deps *Dependencies) *cobra.Command {
	return newControlCmd(deps, "status", "Show the state of the running recording", (*control.Client).Status, "")
}

func newControlCmd(deps *Dependencies, use, short string, call controlCall, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(cmd.OutOrStdout())
			cfg := deps.App.Config.Control

			client, err := control.NewClient(cfg.Address(), cfg.Timeout, deps.App.Logger)
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := call(client, cmd.Context())
			if err != nil {
				if errors.Is(err, control.ErrNotRunning) {
					return fmt.Errorf("no recording is running on %s", cfg.Address())
				}
				return err
			}

			if done != "" {
				f.Success(done)
			}
			f.Status(st.State, st.SessionID, st.Remaining, st.Recorded)
			return nil
		},
	}
}
