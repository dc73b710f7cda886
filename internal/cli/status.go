package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/botshell/internal/logging"
	"github.com/Paintersrp/botshell/internal/process"
)

func newStatusCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display the state reported by a running supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			state, err := newControlClient(cfg.API.Address).State(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUNNING\tSPAWNING\tRESTARTING\tMANAGED")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", yesNo(state.Running), yesNo(state.Spawning), yesNo(state.Restarting), yesNo(state.CanManage))
			if err := w.Flush(); err != nil {
				return err
			}

			desktopLog := cfg.Logging.Path
			if desktopLog == "" {
				desktopLog = logging.DesktopLogPath(ctx.lookupEnv, os.UserHomeDir, os.TempDir)
			}
			rootDir := ""
			if plan, err := ctx.newResolver(cfg).Resolve(); err == nil {
				rootDir = plan.RootDir
			}
			backendLog := process.BackendLogPath(rootDir, ctx.lookupEnv, os.UserHomeDir, os.TempDir)

			fmt.Fprintln(out)
			fmt.Fprintf(out, "Desktop log: %s (%s)\n", desktopLog, fileSize(desktopLog))
			fmt.Fprintf(out, "Backend log: %s (%s)\n", backendLog, fileSize(backendLog))
			return nil
		},
	}
	return cmd
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "missing"
	}
	return units.HumanSize(float64(info.Size()))
}
