package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/hermessim/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config [path]",
	Short: "Load a cache-hierarchy JSON config and report Validate() errors without simulating",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig(args[0])
		if err != nil {
			logrus.WithError(err).Fatal("failed to load config")
		}
		if err := cfg.Validate(); err != nil {
			logrus.WithError(err).Fatal("config is invalid")
		}
		logrus.Infof("%s is valid: %d cache entries, %d DRAM channel(s)",
			args[0], len(cfg.Caches), cfg.DRAM.Channels)
	},
}
