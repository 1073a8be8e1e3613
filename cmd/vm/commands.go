package vm

import "github.com/spf13/cobra"

// Actions defines VM lifecycle operations.
type Actions interface {
	Create(cmd *cobra.Command, args []string) error
	Start(cmd *cobra.Command, args []string) error
	Stop(cmd *cobra.Command, args []string) error
	Delete(cmd *cobra.Command, args []string) error
	Extend(cmd *cobra.Command, args []string) error
	Connect(cmd *cobra.Command, args []string) error
	Credential(cmd *cobra.Command, args []string) error
	List(cmd *cobra.Command, args []string) error
	Inspect(cmd *cobra.Command, args []string) error
}

// Command builds the "vm" parent command with all subcommands.
func Command(h Actions) *cobra.Command {
	vmCmd := &cobra.Command{
		Use:   "vm",
		Short: "Manage virtual machines",
	}
	vmCmd.PersistentFlags().String("tenant", "", "tenant ID (required)")
	_ = vmCmd.MarkPersistentFlagRequired("tenant")

	createCmd := &cobra.Command{
		Use:   "create [flags] IMAGE",
		Short: "Provision a VM from an image",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Create,
	}
	createCmd.Flags().Int("cpu", 1, "vCPU count")
	createCmd.Flags().String("memory", "1GiB", "memory size (e.g. 512MiB, 2GiB)")

	startCmd := &cobra.Command{
		Use:   "start VM",
		Short: "Start a ready or stopped VM",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Start,
	}

	stopCmd := &cobra.Command{
		Use:   "stop VM",
		Short: "Stop a running VM",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Stop,
	}

	deleteCmd := &cobra.Command{
		Use:     "delete VM",
		Aliases: []string{"rm"},
		Short:   "Delete a VM (implicit stop if running)",
		Args:    cobra.ExactArgs(1),
		RunE:    h.Delete,
	}

	extendCmd := &cobra.Command{
		Use:   "extend VM",
		Short: "Push the VM's expiry deadline out by 24h",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Extend,
	}

	connectCmd := &cobra.Command{
		Use:   "connect VM",
		Short: "Issue a one-time connection credential",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Connect,
	}
	connectCmd.Flags().Bool("show", false, "print the secret even when stdout is not a terminal")

	credentialCmd := &cobra.Command{
		Use:   "credential VM",
		Short: "Retrieve a previously issued credential (one-time, consumed on read)",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Credential,
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the tenant's VMs",
		RunE:    h.List,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect VM",
		Short: "Show full VM detail as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Inspect,
	}

	vmCmd.AddCommand(createCmd, startCmd, stopCmd, deleteCmd, extendCmd, connectCmd, credentialCmd, listCmd, inspectCmd)
	return vmCmd
}
