package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/ammiranda/treestore/internal/app"
	"github.com/ammiranda/treestore/migrations"
	"github.com/ammiranda/treestore/models"
	"github.com/ammiranda/treestore/repository"
	"github.com/ammiranda/treestore/store"
)

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the bundled database schema",
	}

	sqlStore := func(a *app.App) (*store.SQLStore, error) {
		s, ok := a.Store.(*store.SQLStore)
		if !ok {
			return nil, fmt.Errorf("the configured store has no schema")
		}
		return s, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all migrations",
			Args:  cobra.NoArgs,
			// opening the store already migrates up
			RunE: c.withApp(func(ctx context.Context, a *app.App, args []string) error {
				s, err := sqlStore(a)
				if err != nil {
					return err
				}
				return c.printVersion(s)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert all migrations, dropping the tree tables",
			Args:  cobra.NoArgs,
			RunE: c.withApp(func(ctx context.Context, a *app.App, args []string) error {
				s, err := sqlStore(a)
				if err != nil {
					return err
				}
				if err := migrations.Down(s.DB(), s.Dialect().Name()); err != nil {
					return err
				}
				a.Cache.InvalidateCache(ctx)
				c.printf("schema removed\n")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: c.withApp(func(ctx context.Context, a *app.App, args []string) error {
				s, err := sqlStore(a)
				if err != nil {
					return err
				}
				return c.printVersion(s)
			}),
		},
	)
	return cmd
}

func (c *cli) printVersion(s *store.SQLStore) error {
	version, dirty, err := migrations.Version(s.DB(), s.Dialect().Name())
	if err != nil {
		return err
	}
	c.printf("schema version %d (dirty: %t)\n", version, dirty)
	return nil
}

func (c *cli) rootsCmd() *cobra.Command {
	var includeDeleted bool
	cmd := &cobra.Command{
		Use:   "roots",
		Short: "List root nodes",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, a *app.App, args []string) error {
			roots, err := a.Repository.FindRoots(ctx, repository.WithDeleted(includeDeleted))
			if err != nil {
				return err
			}
			return c.render(roots)
		}),
	}
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "Include soft-deleted roots")
	return cmd
}

func (c *cli) insertCmd() *cobra.Command {
	var parent, payload string
	cmd := &cobra.Command{
		Use:   "insert <id>",
		Short: "Insert a node",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, args []string) error {
			node := &models.Node{ID: models.NodeID(args[0])}
			if parent != "" {
				node.ParentID = models.NodeID(parent).Ptr()
			}
			if payload != "" {
				if err := json.Unmarshal([]byte(payload), &node.Payload); err != nil {
					return fmt.Errorf("invalid --payload: %w", err)
				}
			}
			inserted, err := a.Repository.Insert(ctx, node)
			if err != nil {
				return err
			}
			a.Cache.InvalidateCache(ctx)
			return c.render(inserted)
		}),
	}
	cmd.Flags().StringVar(&parent, "parent", "", "Parent node id, empty for a root")
	cmd.Flags().StringVar(&payload, "payload", "", "Payload as a JSON object")
	return cmd
}

func (c *cli) treeCmd() *cobra.Command {
	var includeDeleted bool
	var depth int
	cmd := &cobra.Command{
		Use:   "tree <id>",
		Short: "Print the subtree rooted at a node",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, args []string) error {
			tree, err := a.Repository.FindTree(ctx, models.NodeID(args[0]), repository.WithDeleted(includeDeleted))
			if err != nil {
				return err
			}
			prune(tree, depth)
			return c.render(tree)
		}),
	}
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "Include soft-deleted nodes")
	cmd.Flags().IntVar(&depth, "depth", -1, "Levels below the root to print, -1 for all")
	return cmd
}

func (c *cli) rebuildCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "rebuild <id>",
		Short: "Recompute the strategy state of the tree containing a node",
		Long: `rebuild recomputes closure rows, nested set bounds or materialized paths from
the parent references of the tree containing <id>. Only one rebuild runs per
host at a time; concurrent invocations wait for --lock-file.`,
		Args: cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, args []string) error {
			lock := flock.New(c.lockFile)
			lockCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			locked, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
			if err != nil {
				return fmt.Errorf("failed to acquire %s: %w", c.lockFile, err)
			}
			if !locked {
				return fmt.Errorf("another rebuild holds %s", c.lockFile)
			}
			defer lock.Unlock()

			if err := a.Repository.Rebuild(ctx, models.NodeID(args[0])); err != nil {
				return err
			}
			a.Cache.InvalidateCache(ctx)
			c.printf("rebuilt tree containing %s (%s)\n", args[0], a.Strategy.Kind())
			return nil
		}),
	}
	cmd.Flags().StringVar(&c.lockFile, "lock-file", defaultLockFile(), "Lock file serializing rebuilds")
	cmd.Flags().DurationVar(&timeout, "lock-timeout", 30*time.Second, "How long to wait for the lock")
	return cmd
}

func (c *cli) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <id>",
		Short: "Verify the strategy state of the tree containing a node",
		Args:  cobra.ExactArgs(1),
		RunE: c.withApp(func(ctx context.Context, a *app.App, args []string) error {
			if err := a.Repository.Check(ctx, models.NodeID(args[0])); err != nil {
				return err
			}
			c.printf("tree containing %s is consistent (%s)\n", args[0], a.Strategy.Kind())
			return nil
		}),
	}
}
