package cmd

import (
	"fmt"
	"os"

	tt "github.com/cpyref/refscan/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// initCmd: refscan init
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new analysis configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		if err := initConfigurationFile(cfgFile); err != nil {
			logger.Error("Error initializing config file", zap.Error(err))
			return
		}
		fmt.Printf("Configuration file created/updated: %s\n", cfgFile)
	},
}

func initConfigurationFile(configurationPath string) error {
	if configurationPath == "" {
		configurationPath = ".refscan.yaml"
	}

	// Create a yaml file with checks
	config := tt.Config{
		Name:   "refscan",
		Budget: 0, // 0 means the default transition budget
		Checks: map[string]tt.ConfigCheck{},
	}
	d, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	f, err := os.Create(configurationPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(d)
	if err != nil {
		return err
	}

	return nil
}
