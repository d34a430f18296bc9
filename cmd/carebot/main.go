package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	version = "dev"

	configPath string
)

func main() {
	// A missing .env is normal outside local development
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "carebot",
		Short:   "Conversational companion backend for dementia care",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newAssessCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
