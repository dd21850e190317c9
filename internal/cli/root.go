package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// GlobalOptions are the persistent flags shared by every command.
type GlobalOptions struct {
	JSON            bool
	Quiet           bool
	Yes             bool
	ConfigPath      string
	DataDir         string
	User            string
	PassphraseStdin bool
}

type commandDeps struct {
	out       io.Writer
	errOut    io.Writer
	globals   *GlobalOptions
	build     BuildInfo
	lookupEnv func(string) (string, bool)
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	return newRootCommand(commandDeps{
		out:       out,
		errOut:    os.Stderr,
		globals:   &GlobalOptions{},
		build:     build,
		lookupEnv: os.LookupEnv,
	})
}

func newRootCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rotki-db",
		Short:         "Inspect and maintain a rotki user database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(deps.out)
	cmd.SetErr(deps.out)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolVar(&deps.globals.JSON, "json", false, "Print machine-readable JSON")
	flags.BoolVar(&deps.globals.Quiet, "quiet", false, "Suppress informational output")
	flags.BoolVar(&deps.globals.Yes, "yes", false, "Confirm destructive operations")
	flags.StringVar(&deps.globals.ConfigPath, "config", "", "Path to config.toml")
	flags.StringVar(&deps.globals.DataDir, "data-dir", "", "Directory holding one subdirectory per user")
	flags.StringVar(&deps.globals.User, "user", "", "User whose database to open")
	flags.BoolVar(&deps.globals.PassphraseStdin, "passphrase-stdin", false, "Read passphrases from stdin, one per line")

	cmd.AddCommand(newVersionCommand(deps))
	cmd.AddCommand(newInitCommand(deps))
	cmd.AddCommand(newExchangesCommand(deps))
	cmd.AddCommand(newSettingsCommand(deps))
	cmd.AddCommand(newAccountsCommand(deps))
	cmd.AddCommand(newTradesCommand(deps))
	cmd.AddCommand(newIgnoredAssetsCommand(deps))
	cmd.AddCommand(newHistoryCommand(deps))
	cmd.AddCommand(newDropHistoryCommand(deps))
	cmd.AddCommand(newExportCommand(deps))
	cmd.AddCommand(newImportCommand(deps))
	cmd.AddCommand(newReimportCommand(deps))
	cmd.AddCommand(newDoctorCommand(deps))
	cmd.InitDefaultCompletionCmd()
	return cmd
}
