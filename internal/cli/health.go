package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errUnhealthy = errors.New("backend reported not ok")

func newHealthCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := a.apiClient().Health(cmd.Context())
			if err != nil {
				return err
			}
			if !status.OK {
				return errUnhealthy
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
