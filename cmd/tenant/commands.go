package tenant

import "github.com/spf13/cobra"

// Actions defines tenant management operations.
type Actions interface {
	Add(cmd *cobra.Command, args []string) error
	Topup(cmd *cobra.Command, args []string) error
	Tier(cmd *cobra.Command, args []string) error
	Stats(cmd *cobra.Command, args []string) error
	List(cmd *cobra.Command, args []string) error
}

// Command builds the "tenant" parent command with all subcommands.
func Command(h Actions) *cobra.Command {
	tenantCmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	addCmd := &cobra.Command{
		Use:   "add OWNER",
		Short: "Create a tenant for an owner",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Add,
	}
	addCmd.Flags().String("tier", "standard", "tier: standard, pro, enterprise")
	addCmd.Flags().Int64("credits", 0, "initial credit balance (smallest currency unit)")

	topupCmd := &cobra.Command{
		Use:   "topup TENANT AMOUNT",
		Short: "Add credits to a tenant",
		Args:  cobra.ExactArgs(2),
		RunE:  h.Topup,
	}

	tierCmd := &cobra.Command{
		Use:   "tier TENANT TIER",
		Short: "Change a tenant's tier",
		Args:  cobra.ExactArgs(2),
		RunE:  h.Tier,
	}

	statsCmd := &cobra.Command{
		Use:   "stats TENANT",
		Short: "Show usage aggregation for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE:  h.Stats,
	}

	listCmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tenants",
		RunE:    h.List,
	}

	tenantCmd.AddCommand(addCmd, topupCmd, tierCmd, statsCmd, listCmd)
	return tenantCmd
}
