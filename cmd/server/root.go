package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loadtoy/dashboard/internal/config"
)

func newRootCmd() *cobra.Command {
	var cfgFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "loadtoy-dashboard",
		Short: "Start, stop and watch k6 load tests against the workload service",
		Long: `
loadtoy-dashboard serves the control API behind the load test dashboard.

It runs at most one baseline and one scenario k6 test at a time, either in
docker containers (k6.mode=docker) or with a local k6 binary (k6.mode=local).
Every setting can be given in the config file or as a LOADTOY_* environment
variable, e.g. LOADTOY_K6_BASEURL.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("log.level", cmd.Flags().Lookup("log-level"))

	return cmd
}
