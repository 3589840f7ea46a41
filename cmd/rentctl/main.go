package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "rentctl",
		Short:   "rentdesk operator tool",
		Version: Version,
	}

	rootCmd.PersistentFlags().String("api", envOr("RENTDESK_API", "http://localhost:8080"), "rentdesk API base URL")
	rootCmd.PersistentFlags().String("token", os.Getenv("RENTDESK_TOKEN"), "bearer token")

	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(watchCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
