package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ammiranda/treestore/cache"
	"github.com/ammiranda/treestore/config"
	"github.com/ammiranda/treestore/internal/app"
)

// cli carries the global flags shared by every command
type cli struct {
	out        io.Writer
	configFile string
	driver     string
	sqlitePath string
	strategy   string
	format     string
	verbose    bool
	lockFile   string

	// cache replaces the configured tree cache
	cache cache.CacheProvider
}

func newRootCmd(out io.Writer) *cobra.Command {
	return (&cli{out: out}).rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "treectl",
		Short: "treectl - maintenance CLI for tree storage",
		Long: `treectl inspects and repairs trees stored by the tree service.

Configuration is read from --config (yaml, json or toml) and the environment;
the flags below override both.

Examples:
  # Apply the bundled schema to the configured database
  treectl migrate up

  # Print a subtree as yaml, soft-deleted nodes included
  treectl tree R --format yaml --include-deleted

  # Recompute nested set bounds for the tree containing node 42
  treectl --strategy nested_set rebuild 42`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "Config file path")
	flags.StringVar(&c.driver, "driver", "", "Store driver: memory|sqlite3|postgres|pgx")
	flags.StringVar(&c.sqlitePath, "sqlite-path", "", "SQLite database path")
	flags.StringVar(&c.strategy, "strategy", "", "Tree strategy: adjacency|closure|nested_set|materialized_path")
	flags.StringVarP(&c.format, "format", "f", "json", "Output format: json|yaml|text")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(
		c.migrateCmd(),
		c.rootsCmd(),
		c.insertCmd(),
		c.treeCmd(),
		c.rebuildCmd(),
		c.checkCmd(),
	)
	return rootCmd
}

// provider layers the command line over the config file and environment
func (c *cli) provider() (config.Provider, error) {
	p, err := config.NewViperProvider(c.configFile)
	if err != nil {
		return nil, err
	}
	if c.driver != "" {
		p.Set("STORE_DRIVER", c.driver)
	}
	if c.sqlitePath != "" {
		p.Set("SQLITE_PATH", c.sqlitePath)
	}
	if c.strategy != "" {
		p.Set("TREE_STRATEGY", c.strategy)
	}
	return p, nil
}

func (c *cli) logger() *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// open wires the service with the cache the servers share, so mutations here can
// invalidate it. Reads always go to the store.
func (c *cli) open(ctx context.Context) (*app.App, error) {
	p, err := c.provider()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, p, c.logger(), app.Options{Cache: c.cache})
}

func (c *cli) withApp(fn func(ctx context.Context, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := c.open(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, args)
	}
}

func defaultLockFile() string {
	return filepath.Join(os.TempDir(), "treectl-rebuild.lock")
}

func (c *cli) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}
