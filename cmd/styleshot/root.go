package main

import (
	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/styleshot/internal/bootstrap"
	"github.com/yokitheyo/styleshot/internal/config"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "styleshot",
		Short: "Turn casual photos into platform-ready professional portraits",
		Long: `styleshot runs the same tiered orchestrator as the API, offline.

Without --config only the local simulation tier is configured, so every
result is produced on this machine.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zlog.Init()
			bootstrap.SetLogLevel(g.logLevel)
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file with an orchestrator section")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(newTransformCmd(g), newPlatformsCmd())
	return root
}

// orchestratorConfig reads --config when given, otherwise the built-in defaults.
func (g *globalFlags) orchestratorConfig() (config.OrchestratorConfig, error) {
	if g.configPath == "" {
		return config.DefaultOrchestrator(), nil
	}
	cfg, err := config.LoadOrchestrator(g.configPath)
	if err != nil {
		return config.OrchestratorConfig{}, err
	}
	return *cfg, nil
}
