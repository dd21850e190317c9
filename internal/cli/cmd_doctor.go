package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sevdimali/rotki/internal/debug"
)

var errDoctorUnhealthy = errors.New("doctor found problems")

func newDoctorCommand(deps commandDeps) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the selected user's data directory without decrypting it",
		Args:  noArgs,
		RunE: func(*cobra.Command, []string) error {
			bundle := debug.NewBundle(time.Now())
			bundle.Version = map[string]any{
				"version":    deps.build.Version,
				"commit":     deps.build.Commit,
				"build_time": deps.build.BuildTime,
			}

			cfg, err := loadCommandConfig(deps)
			bundle.Record("config", err, "loaded")
			if err == nil {
				bundle.User = cfg.Data.User
				userDir, err := cfg.UserDir()
				if err != nil {
					bundle.Record("user", err, "")
				} else {
					debug.InspectUserDir(&bundle, userDir)
				}
			}

			if out != "" {
				if err := debug.WriteBundle(out, bundle); err != nil {
					return mapCommandError(err)
				}
			}

			err = outputValue(deps.out, deps.globals.JSON, bundle, func(w io.Writer) error {
				for _, check := range bundle.Checks {
					status := "ok"
					if !check.OK {
						status = "FAIL"
					}
					if _, err := fmt.Fprintf(w, "%-4s %-8s %s\n", status, check.Name, check.Message); err != nil {
						return err
					}
				}
				for _, note := range bundle.Notes {
					if _, err := fmt.Fprintf(w, "note %s\n", note); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return mapCommandError(err)
			}
			if !bundle.Healthy() {
				return &ExitError{Code: ExitCodeGeneric, Err: errDoctorUnhealthy}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Also write the report as JSON to this path")
	return cmd
}
