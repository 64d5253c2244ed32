package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/keshon/voicequeue/internal/music/cache"
)

func cacheCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune the download cache",
	}
	c.AddCommand(cacheLsCmd(), cachePruneCmd())
	return c
}

func cacheLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List cached files, least recently used first",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, done, err := setup()
			if err != nil {
				return err
			}
			defer done()

			store, err := openCache(afero.NewOsFs(), cfg)
			if err != nil {
				return err
			}
			printCache(c.OutOrStdout(), store)
			return nil
		},
	}
}

func cachePruneCmd() *cobra.Command {
	var budget int64
	c := &cobra.Command{
		Use:   "prune",
		Short: "Evict least recently used files until the cache fits the budget",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, done, err := setup()
			if err != nil {
				return err
			}
			defer done()

			if budget < 0 {
				return fmt.Errorf("budget must be >= 0, got %d", budget)
			}
			store, err := openCache(afero.NewOsFs(), cfg)
			if err != nil {
				return err
			}
			removed := store.Prune(budget)
			fmt.Fprintf(c.OutOrStdout(), "Removed %d file(s), %s left\n", removed, humanBytes(store.Size()))
			return nil
		},
	}
	c.Flags().Int64Var(&budget, "budget", 0, "target cache size in bytes")
	return c
}

func printCache(w io.Writer, store *cache.Cache) {
	for _, e := range store.Entries() {
		fmt.Fprintf(w, "%-10s %s\n", humanBytes(e.Size), filepath.Base(e.Path))
	}
	fmt.Fprintf(w, "%d file(s), %s of %s\n", store.Len(), humanBytes(store.Size()), humanBytes(store.Budget()))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
