package main

import (
	"log"

	"github.com/spf13/cobra"

	"mini-mesh/cmd/meshd/servecmd"
	"mini-mesh/logger"
)

func main() {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:  "meshd",
		Long: "meshd is a service mesh core: endpoint registry, health tracking, routing and circuit breaking",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel != "" {
				logger.SetLogLevel(logLevel)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides MESH_LOG_LEVEL")

	rootCmd.AddCommand(servecmd.NewServeCommand())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("error running command: %v", err)
	}
}
