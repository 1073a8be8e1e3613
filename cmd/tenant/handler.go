package tenant

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/hatchery/cmd/core"
	"github.com/projecteru2/hatchery/store"
	"github.com/projecteru2/hatchery/types"
)

// Handler implements Actions against the store.
type Handler struct {
	cmdcore.BaseHandler
}

// initStore is the shared init for tenant subcommands.
func (h Handler) initStore(cmd *cobra.Command) (context.Context, *store.Store, error) {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return nil, nil, err
	}
	s, _, err := cmdcore.InitOrchestrator(conf)
	if err != nil {
		return nil, nil, err
	}
	return ctx, s, nil
}

func (h Handler) Add(cmd *cobra.Command, args []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	s, _, err := cmdcore.InitOrchestrator(conf)
	if err != nil {
		return err
	}

	tierFlag, _ := cmd.Flags().GetString("tier")
	tier := types.Tier(tierFlag)
	if !tier.Valid() {
		return fmt.Errorf("unknown tier %q", tierFlag)
	}
	credits, _ := cmd.Flags().GetInt64("credits")

	now := time.Now()
	t := &store.Tenant{
		ID:            uuid.NewString(),
		OwnerID:       args[0],
		Tier:          tier,
		CreditBalance: credits,
		TrialEndsAt:   now.AddDate(0, 0, conf.TrialDays),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.CreateTenant(ctx, t); err != nil {
		return err
	}
	log.WithFunc("cmd.tenant.add").Infof(ctx, "tenant created: %s (tier %s, trial until %s)",
		t.ID, t.Tier, t.TrialEndsAt.Format(time.RFC3339))
	return nil
}

func (h Handler) Topup(cmd *cobra.Command, args []string) error {
	ctx, s, err := h.initStore(cmd)
	if err != nil {
		return err
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return fmt.Errorf("amount must be a positive integer: %q", args[1])
	}
	if err := s.AddCredit(ctx, args[0], amount); err != nil {
		return err
	}
	log.WithFunc("cmd.tenant.topup").Infof(ctx, "added %d credits to %s", amount, args[0])
	return nil
}

func (h Handler) Tier(cmd *cobra.Command, args []string) error {
	ctx, s, err := h.initStore(cmd)
	if err != nil {
		return err
	}
	tier := types.Tier(args[1])
	if !tier.Valid() {
		return fmt.Errorf("unknown tier %q", args[1])
	}
	if err := s.SetTier(ctx, args[0], tier); err != nil {
		return err
	}
	log.WithFunc("cmd.tenant.tier").Infof(ctx, "tenant %s moved to tier %s", args[0], tier)
	return nil
}

func (h Handler) Stats(cmd *cobra.Command, args []string) error {
	ctx, s, err := h.initStore(cmd)
	if err != nil {
		return err
	}
	stats, err := s.TenantUsage(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("total VMs:     %d\n", stats.TotalVMs)
	fmt.Printf("running VMs:   %d\n", stats.RunningVMs)
	fmt.Printf("total seconds: %d\n", stats.TotalSeconds)
	fmt.Printf("total cost:    %d\n", stats.TotalCost)
	return nil
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, s, err := h.initStore(cmd)
	if err != nil {
		return err
	}
	tenants, err := s.ListTenants(ctx)
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		fmt.Println("No tenants found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tOWNER\tTIER\tBALANCE\tTRIAL ENDS")
	for _, t := range tenants {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			t.ID, t.OwnerID, t.Tier, t.CreditBalance, t.TrialEndsAt.Format(time.RFC3339))
	}
	return w.Flush()
}
