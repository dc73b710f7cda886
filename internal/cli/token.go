package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/botshell/internal/cliutil"
)

func newTokenCmd(ctx *context) *cobra.Command {
	var clearToken bool

	cmd := &cobra.Command{
		Use:   "token [TOKEN]",
		Short: "Store or clear the dashboard token used for graceful restarts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearToken == (len(args) == 1) {
				return fmt.Errorf("provide a token or --clear")
			}
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			var token *string
			if !clearToken {
				token = &args[0]
			}
			if err := newControlClient(cfg.API.Address).SetCredential(cmd.Context(), token); err != nil {
				return err
			}
			masked := ""
			if token != nil {
				masked = *token
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored token: %s\n", cliutil.MaskToken(masked))
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearToken, "clear", false, "Forget the stored token")
	return cmd
}
