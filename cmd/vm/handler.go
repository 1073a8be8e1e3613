package vm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	cmdcore "github.com/projecteru2/hatchery/cmd/core"
	"github.com/projecteru2/hatchery/guard"
	"github.com/projecteru2/hatchery/orchestrator"
	"github.com/projecteru2/hatchery/types"
)

// Handler implements Actions against the orchestrator.
type Handler struct {
	cmdcore.BaseHandler
}

// initOrch is the shared init for all VM subcommands.
func (h Handler) initOrch(cmd *cobra.Command) (context.Context, *orchestrator.Orchestrator, string, error) {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return nil, nil, "", err
	}
	_, orch, err := cmdcore.InitOrchestrator(conf)
	if err != nil {
		return nil, nil, "", err
	}
	tenant, _ := cmd.Flags().GetString("tenant")
	return ctx, orch, tenant, nil
}

func (h Handler) Create(cmd *cobra.Command, args []string) error {
	ctx, orch, tenant, err := h.initOrch(cmd)
	if err != nil {
		return err
	}

	cpu, _ := cmd.Flags().GetInt("cpu")
	memFlag, _ := cmd.Flags().GetString("memory")
	memory, err := units.RAMInBytes(memFlag)
	if err != nil {
		return fmt.Errorf("parse memory %q: %w", memFlag, err)
	}

	vm, err := orch.Create(ctx, tenant, types.Shape{VCPU: cpu, Memory: memory, Image: args[0]})
	if err != nil {
		if guard.Rejection(err) {
			return fmt.Errorf("create rejected: %w", err)
		}
		return err
	}

	logger := log.WithFunc("cmd.vm.create")
	logger.Infof(ctx, "VM created: %s (name: %s, status: %s)", vm.ID, vm.Name, vm.Status)
	logger.Infof(ctx, "expires at %s — start with: hatchery vm start %s", vm.ExpiresAt.Format(time.RFC3339), vm.ID)
	return nil
}

func (h Handler) Start(cmd *cobra.Command, args []string) error {
	ctx, orch, tenant, err := h.initOrch(cmd)
	if err != nil {
		return err
	}
	if err := orch.Start(ctx, tenant, args[0]); err != nil {
		if guard.Rejection(err) {
			return fmt.Errorf("start rejected: %w", err)
		}
		return err
	}
	log.WithFunc("cmd.vm.start").Infof(ctx, "started: %s", args[0])
	return nil
}

func (h Handler) Stop(cmd *cobra.Command, args []string) error {
	ctx, orch, tenant, err := h.initOrch(cmd)
	if err != nil {
		return err
	}
	if err := orch.Stop(ctx, tenant, args[0]); err != nil {
		return err
	}
	log.WithFunc("cmd.vm.stop").Infof(ctx, "stopped: %s", args[0])
	return nil
}

func (h Handler) Delete(cmd *cobra.Command, args []string) error {
	ctx, orch, tenant, err := h.initOrch(cmd)
	if err != nil {
		return err
	}
	if err := orch.Delete(ctx, tenant, args[0]); err != nil {
		return err
	}
	log.WithFunc("cmd.vm.delete").Infof(ctx, "deleted: %s", args[0])
	return nil
}

func (h Handler) Extend(cmd *cobra.Command, args []string) error {
	ctx, orch, tenant, err := h.initOrch(cmd)
	if err != nil {
		return err
	}
	expiresAt, err := orch.Extend(ctx, tenant, args[0])
	if err != nil {
		return err
	}
	log.WithFunc("cmd.vm.extend").Infof(ctx, "VM %s now expires at %s", args[0], expiresAt.Format(time.RFC3339))
	return nil
}

func (h Handler) Connect(cmd *cobra.Command, args []string) error {
	ctx, orch, tenant, err := h.initOrch(cmd)
	if err != nil {
		return err
	}

	cred, err := orch.IssueCredential(ctx, tenant, args[0])
	if err != nil {
		return err
	}
	vm, err := orch.Get(ctx, tenant, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("address: %s:%d\n", vm.Address, vm.Port)
	fmt.Printf("valid until: %s\n", cred.ExpiresAt.Format(time.RFC3339))

	show, _ := cmd.Flags().GetBool("show")
	if !show && !term.IsTerminal(int(os.Stdout.Fd())) {
		// Keep secrets out of pipes and logs unless explicitly asked.
		fmt.Println("secret withheld (stdout is not a terminal, use --show)")
		return nil
	}
	fmt.Printf("secret: %s\n", cred.Secret)
	return nil
}

// Credential fetches a credential issued earlier by connect. Retrieval
// consumes it, so the secret is always printed.
func (h Handler) Credential(cmd *cobra.Command, args []string) error {
	ctx, orch, tenant, err := h.initOrch(cmd)
	if err != nil {
		return err
	}

	cred, err := orch.RetrieveCredential(ctx, tenant, args[0])
	if err != nil {
		return err
	}
	vm, err := orch.Get(ctx, tenant, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("address: %s:%d\n", vm.Address, vm.Port)
	fmt.Printf("valid until: %s\n", cred.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("secret: %s\n", cred.Secret)
	return nil
}

func (h Handler) List(cmd *cobra.Command, _ []string) error {
	ctx, orch, tenant, err := h.initOrch(cmd)
	if err != nil {
		return err
	}

	vms, err := orch.List(ctx, tenant)
	if err != nil {
		return err
	}
	if len(vms) == 0 {
		fmt.Println("No VMs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCPU\tMEMORY\tIMAGE\tEXPIRES")
	for _, vm := range vms {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			vm.ID,
			vm.Name,
			vm.Status,
			vm.VCPU,
			units.BytesSize(float64(vm.Memory)),
			vm.Image,
			vm.ExpiresAt.Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func (h Handler) Inspect(cmd *cobra.Command, args []string) error {
	ctx, orch, tenant, err := h.initOrch(cmd)
	if err != nil {
		return err
	}
	vm, err := orch.Get(ctx, tenant, args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(vm)
}
