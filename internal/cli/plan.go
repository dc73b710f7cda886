package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/Paintersrp/botshell/internal/cliutil"
	"github.com/Paintersrp/botshell/internal/process"
)

func newPlanCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show how the backend would be launched",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			plan, err := ctx.newResolver(cfg).Resolve()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "COMMAND\t%s\n", cliutil.RedactSecrets(joinCommand(plan.DebugCommand())))
			fmt.Fprintf(w, "DIR\t%s\n", orDash(plan.Dir))
			fmt.Fprintf(w, "ROOT\t%s\n", orDash(plan.RootDir))
			fmt.Fprintf(w, "WEBUI\t%s\n", orDash(plan.WebUIDir))
			fmt.Fprintf(w, "PACKAGED\t%t\n", plan.Packaged)
			fmt.Fprintf(w, "LOG\t%s\n", process.BackendLogPath(plan.RootDir, ctx.lookupEnv, os.UserHomeDir, os.TempDir))
			return w.Flush()
		},
	}
	return cmd
}

// joinCommand quotes arguments that would not survive a shlex round trip.
func joinCommand(argv []string) string {
	parts := make([]string, len(argv))
	for i, arg := range argv {
		parts[i] = arg
		if fields, err := shlex.Split(arg); err != nil || len(fields) != 1 || fields[0] != arg {
			parts[i] = fmt.Sprintf("%q", arg)
		}
	}
	return strings.Join(parts, " ")
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
