package core

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/orchestrator"
	"github.com/projecteru2/hatchery/provider/httpapi"
	"github.com/projecteru2/hatchery/reconcile"
	"github.com/projecteru2/hatchery/store"
)

// BaseHandler provides shared config access for all command handlers.
type BaseHandler struct {
	ConfProvider func() *config.Config
}

// Init returns the command context and validated config in one call.
func (h BaseHandler) Init(cmd *cobra.Command) (context.Context, *config.Config, error) {
	conf, err := h.Conf()
	if err != nil {
		return nil, nil, err
	}
	return cmd.Context(), conf, nil
}

// Conf validates and returns the config. All handlers call this first.
func (h BaseHandler) Conf() (*config.Config, error) {
	if h.ConfProvider == nil {
		return nil, fmt.Errorf("config provider is nil")
	}
	conf := h.ConfProvider()
	if conf == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	return conf, nil
}

// InitOrchestrator opens the store and wires the orchestrator with the
// provider client. The provider client is constructed once here and injected
// into every component that needs it.
func InitOrchestrator(conf *config.Config) (*store.Store, *orchestrator.Orchestrator, error) {
	if conf.Store.Driver != "postgres" {
		if err := conf.EnsureRootDir(); err != nil {
			return nil, nil, err
		}
	}
	s, err := store.Open(conf)
	if err != nil {
		return nil, nil, err
	}
	p := httpapi.New(conf.Provider)
	return s, orchestrator.New(conf, s, p), nil
}

// InitReconciler builds the reconciler and its runner on top of an
// orchestrator.
func InitReconciler(conf *config.Config, s *store.Store, orch *orchestrator.Orchestrator) (*reconcile.Reconciler, *reconcile.Runner, error) {
	rec, err := reconcile.New(conf, s, orch.Provider(), orch)
	if err != nil {
		return nil, nil, err
	}
	return rec, reconcile.NewRunner(conf.Reconcile, rec), nil
}

// SignalContext returns a context cancelled on SIGINT/SIGTERM.
func SignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}
