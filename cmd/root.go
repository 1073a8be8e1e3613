package cmd

import (
	"context"
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdcore "github.com/projecteru2/hatchery/cmd/core"
	cmdothers "github.com/projecteru2/hatchery/cmd/others"
	cmdtenant "github.com/projecteru2/hatchery/cmd/tenant"
	cmdvm "github.com/projecteru2/hatchery/cmd/vm"
	"github.com/projecteru2/hatchery/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hatchery",
		Short: "Hatchery - ephemeral VM orchestrator",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("root-dir", "", "local data directory")
	cmd.PersistentFlags().String("store-driver", "", "store driver (sqlite, postgres)")
	cmd.PersistentFlags().String("store-dsn", "", "store connection string")
	cmd.PersistentFlags().String("provider-endpoint", "", "provider API endpoint")

	_ = viper.BindPFlag("root_dir", cmd.PersistentFlags().Lookup("root-dir"))
	_ = viper.BindPFlag("store.driver", cmd.PersistentFlags().Lookup("store-driver"))
	_ = viper.BindPFlag("store.dsn", cmd.PersistentFlags().Lookup("store-dsn"))
	_ = viper.BindPFlag("provider.endpoint", cmd.PersistentFlags().Lookup("provider-endpoint"))

	viper.SetEnvPrefix("HATCHERY")
	viper.AutomaticEnv()

	confProvider := func() *config.Config { return conf }

	cmd.AddCommand(cmdvm.Command(cmdvm.Handler{BaseHandler: baseHandler(confProvider)}))
	cmd.AddCommand(cmdtenant.Command(cmdtenant.Handler{BaseHandler: baseHandler(confProvider)}))
	for _, c := range cmdothers.Commands(cmdothers.Handler{BaseHandler: baseHandler(confProvider)}) {
		cmd.AddCommand(c)
	}

	return cmd
}()

func baseHandler(provider func() *config.Config) cmdcore.BaseHandler {
	return cmdcore.BaseHandler{ConfProvider: provider}
}

func initConfig(ctx context.Context) error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	_ = viper.ReadInConfig() // optional; missing file is OK

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	conf.Normalize()

	return log.SetupLog(ctx, &conf.Log, "")
}

// Execute is the main entry point called from main.go.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}
