package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

type versionView struct {
	BuildInfo
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version information",
		Example: "  rotki-db version\n" +
			"  rotki-db --json version",
		Args: noArgs,
		RunE: func(*cobra.Command, []string) error {
			view := versionView{
				BuildInfo: deps.build,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			if deps.globals.JSON {
				return mapCommandError(printJSON(deps.out, view))
			}
			_, err := fmt.Fprintf(deps.out, "version=%s commit=%s build_time=%s go=%s platform=%s\n",
				view.Version, view.Commit, view.BuildTime, view.GoVersion, view.Platform)
			return mapCommandError(err)
		},
	}
}
