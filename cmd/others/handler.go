package others

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/hatchery/cmd/core"
	"github.com/projecteru2/hatchery/lock/flock"
)

// Handler implements Actions.
type Handler struct {
	cmdcore.BaseHandler
}

// Reconcile runs one manual sweep pass — the operational trigger for "fix
// it now" instead of waiting for the daemon's next tick.
func (h Handler) Reconcile(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	s, orch, err := cmdcore.InitOrchestrator(conf)
	if err != nil {
		return err
	}
	rec, runner, err := cmdcore.InitReconciler(conf, s, orch)
	if err != nil {
		return err
	}
	defer rec.Release()

	withDrift, _ := cmd.Flags().GetBool("drift")
	expiry, drift, err := runner.RunOnce(ctx, withDrift)
	if err != nil {
		return err
	}

	fmt.Printf("expiry sweep: %d affected, %d failed\n", expiry.Affected, expiry.Failed)
	if withDrift {
		fmt.Printf("drift sync:   %d affected, %d failed\n", drift.Affected, drift.Failed)
	}
	return nil
}

// Daemon runs both sweep loops until SIGINT/SIGTERM. With the local sqlite
// store a flock on the data dir refuses a second daemon.
func (h Handler) Daemon(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.daemon")

	s, orch, err := cmdcore.InitOrchestrator(conf)
	if err != nil {
		return err
	}

	if conf.Store.Driver != "postgres" {
		guard := flock.New(conf.DaemonLockPath())
		ok, err := guard.TryLock(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("another daemon already serves %s", conf.RootDir)
		}
		defer guard.Unlock(ctx) //nolint:errcheck
	}

	rec, runner, err := cmdcore.InitReconciler(conf, s, orch)
	if err != nil {
		return err
	}
	defer rec.Release()

	ctx, cancel := cmdcore.SignalContext(ctx)
	defer cancel()

	runner.Start(ctx)
	logger.Infof(ctx, "reconciliation daemon up (expiry every %ds, drift every %ds)",
		conf.Reconcile.ExpiryIntervalSeconds, conf.Reconcile.DriftIntervalSeconds)

	<-ctx.Done()
	logger.Infof(ctx, "shutting down")
	runner.Stop()
	return nil
}

// Info dumps the effective configuration.
func (h Handler) Info(cmd *cobra.Command, _ []string) error {
	_, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(conf)
}
