package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/infermed/backend/internal/app"
)

var cacheFlags struct {
	version string
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and purge cached bundles",
}

var cacheVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version tag bundles are currently stored under",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context(), app.Options{SkipGeneration: true})
		if err != nil {
			return err
		}
		defer a.Close()
		fmt.Fprintln(cmd.OutOrStdout(), a.Engine.Version())
		return nil
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every shared-cache bundle stored under a version",
	Long: "Delete every bundle stored under a version tag in the shared cache.\n" +
		"Defaults to the current version. Only the redis backend is shared\n" +
		"between processes; the memory backend lives and dies with the server.",
	RunE: runCachePurge,
}

type purger interface {
	PurgeVersion(ctx context.Context, version string) (int, error)
}

func init() {
	cachePurgeCmd.Flags().StringVar(&cacheFlags.version, "version", "", "Version tag to purge (default: current)")
	cacheCmd.AddCommand(cacheVersionCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}

func runCachePurge(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context(), app.Options{SkipGeneration: true})
	if err != nil {
		return err
	}
	defer a.Close()

	p, ok := a.Cache.(purger)
	if !ok {
		return fmt.Errorf("cache backend %q is process-local; restart the server to clear it", a.Cache.Name())
	}

	version := cacheFlags.version
	if version == "" {
		version = a.Engine.Version()
	}
	n, err := p.PurgeVersion(cmd.Context(), version)
	if err != nil {
		return fmt.Errorf("purge %s: %w", version, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d bundles under %s\n", n, version)
	return nil
}
