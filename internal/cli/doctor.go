package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brollyhub/screenrec/internal/encoder"
	"github.com/brollyhub/screenrec/internal/lock"
	"github.com/brollyhub/screenrec/internal/output"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(cmd.OutOrStdout())
			cfg := deps.App.Config
			ok := true

			if err := encoder.CheckFFmpeg(cfg.Capture.FFmpegPath); err != nil {
				f.SetupCheck("ffmpeg", false, err.Error())
				ok = false
			} else {
				f.SetupCheck("ffmpeg", true, "installed")

				encoders, err := encoder.AvailableEncoders(cmd.Context(), cfg.Encoder.FFmpegPath)
				switch {
				case err != nil:
					f.SetupCheck("H.264 encoders", false, err.Error())
					ok = false
				case len(encoders) == 0:
					f.SetupCheck("H.264 encoders", false, "none found, recordings will stay in their raw format")
					ok = false
				default:
					f.SetupCheck("H.264 encoders", true, strings.Join(encoders, ", "))
				}
			}

			if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
				f.SetupCheck("Output directory", false, err.Error())
				ok = false
			} else {
				f.SetupCheck("Output directory", true, cfg.Output.Dir)
			}

			if l, err := lock.Acquire(cfg.Recording.LockPath); err != nil {
				if errors.Is(err, lock.ErrAlreadyRunning) {
					f.SetupCheck("Recorder", true, "a recording is in progress")
				} else {
					f.SetupCheck("Recorder", false, err.Error())
					ok = false
				}
			} else {
				l.Release()
				f.SetupCheck("Recorder", true, "idle")
			}

			if cfg.Archive.Enabled {
				if err := deps.App.ArchiveHealth(cmd.Context()); err != nil {
					f.SetupCheck("Archive", false, err.Error())
					ok = false
				} else {
					f.SetupCheck("Archive", true, fmt.Sprintf("%s/%s", cfg.Archive.Endpoint, cfg.Archive.Bucket))
				}
			}

			if ok {
				f.Success("\nAll prerequisites met. Ready to record!")
			} else {
				f.Warning("\nSome prerequisites are missing.")
			}
			return nil
		},
	}
}
