package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRestartCmd(ctx *context) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the backend through a running supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			var authToken *string
			if cmd.Flags().Changed("token") {
				authToken = &token
			}
			if err := newControlClient(cfg.API.Address).Restart(cmd.Context(), authToken); err != nil {
				return fmt.Errorf("restart failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Backend restarted")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "Dashboard token used for the graceful restart request")
	return cmd
}

func newStopCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the managed backend through a running supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			if err := newControlClient(cfg.API.Address).Stop(cmd.Context()); err != nil {
				return fmt.Errorf("stop failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Backend stopped")
			return nil
		},
	}
	return cmd
}
