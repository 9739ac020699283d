package cli

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brollyhub/screenrec/internal/output"
)

var videoExts = map[string]bool{".mp4": true, ".mkv": true, ".webm": true, ".mov": true}

func NewListCmd(deps *Dependencies) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(cmd.OutOrStdout())

			if remote {
				return listRemote(cmd, deps, formatter)
			}

			dir := deps.App.Config.Output.Dir
			entries, err := os.ReadDir(dir)
			if err != nil {
				if os.IsNotExist(err) {
					formatter.Info("No recordings found")
					return nil
				}
				return err
			}

			var files []os.FileInfo
			for _, e := range entries {
				if e.IsDir() || !videoExts[strings.ToLower(filepath.Ext(e.Name()))] {
					continue
				}
				info, err := e.Info()
				if err != nil {
					continue
				}
				files = append(files, info)
			}

			if len(files) == 0 {
				formatter.Info("No recordings found")
				return nil
			}

			sort.Slice(files, func(i, j int) bool {
				return files[i].ModTime().After(files[j].ModTime())
			})

			formatter.RecordingListHeader("Recordings in " + dir)
			for _, info := range files {
				formatter.RecordingListItem(info.Name(), info.Size(), info.ModTime())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "List archived recordings instead")

	return cmd
}

func listRemote(cmd *cobra.Command, deps *Dependencies, formatter *output.Formatter) error {
	recordings, err := deps.App.RemoteRecordings(cmd.Context())
	if err != nil {
		return err
	}
	if len(recordings) == 0 {
		formatter.Info("No archived recordings found")
		return nil
	}

	formatter.RecordingListHeader("Archived recordings")
	for _, r := range recordings {
		formatter.RecordingListItem(r.SessionID, 0, r.CompletedAt)
	}
	return nil
}
