package main

import (
	"os"

	"github.com/mohammad-safakhou/brandscope/config"
	"github.com/mohammad-safakhou/brandscope/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "brandscope",
		Short:         "Brand analysis service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(serveCMD(&cfgPath), migrateCMD(&cfgPath), analyzeCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("brandscope failed")
		os.Exit(1)
	}
}

// setup loads the config and builds the process logger.
func setup(cfgPath string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.General)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
