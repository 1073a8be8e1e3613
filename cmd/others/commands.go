package others

import "github.com/spf13/cobra"

// Actions defines operational commands outside the tenant/vm surfaces.
type Actions interface {
	Reconcile(cmd *cobra.Command, args []string) error
	Daemon(cmd *cobra.Command, args []string) error
	Info(cmd *cobra.Command, args []string) error
}

// Commands builds the operational command set.
func Commands(h Actions) []*cobra.Command {
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run the reconciliation sweeps once",
		RunE:  h.Reconcile,
	}
	reconcileCmd.Flags().Bool("drift", false, "also run the drift sync against the provider")

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the reconciliation loops until interrupted",
		RunE:  h.Daemon,
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show effective configuration",
		RunE:  h.Info,
	}

	return []*cobra.Command{reconcileCmd, daemonCmd, infoCmd}
}
