package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tendant/content-odata/pkg/contentrepo"
	"github.com/tendant/content-odata/pkg/contentrepo/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// .env values never override the real environment
	_ = godotenv.Load()

	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand creates the contentctl command tree.
func NewRootCommand() *cobra.Command {
	var envPrefix string
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "contentctl",
		Short: "Content repository command line tool",
		Long: `Import, export and inspect a content repository.

The repository is configured from the environment (DATABASE_URL, STORAGE_URL,
CTD_DIR, ...). A .env file in the current directory is loaded first.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("load %s: %w", envFile, err)
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&envPrefix, "env-prefix", "", "prefix of the configuration environment variables")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "additional .env file to load")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewImportCommand())
	rootCmd.AddCommand(NewExportCommand())
	rootCmd.AddCommand(NewTypesCommand())

	return rootCmd
}

// newService builds the repository service from the environment.
func newService(cmd *cobra.Command) (contentrepo.Service, error) {
	prefix, _ := cmd.Flags().GetString("env-prefix")
	cfg, err := config.Load(config.WithEnv(prefix))
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	svc, err := cfg.BuildService()
	if err != nil {
		return nil, fmt.Errorf("build service: %w", err)
	}
	return svc, nil
}
