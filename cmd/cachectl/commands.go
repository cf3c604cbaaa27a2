// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/cartridge/internal/backend"
	"github.com/tomtom215/cartridge/internal/config"
	"github.com/tomtom215/cartridge/internal/format"
	"github.com/tomtom215/cartridge/internal/gamecache"
	"github.com/tomtom215/cartridge/internal/igdb"
	"github.com/tomtom215/cartridge/internal/logging"
)

// app is an opened cache and the store behind it.
type app struct {
	cache *gamecache.Cache
	close func() error
}

type opener func(cfg *config.Config) (*app, error)

func openApp(cfg *config.Config) (*app, error) {
	store, err := backend.Open(cfg)
	if err != nil {
		return nil, err
	}
	cache := gamecache.New(store, igdb.NewClient(&cfg.IGDB), format.FromConfig(&cfg.Format), gamecache.OptionsFromConfig(cfg)...)
	return &app{
		cache: cache,
		close: func() error {
			cache.Wait()
			return store.Close()
		},
	}, nil
}

type cli struct {
	open       opener
	out        io.Writer
	configPath string
	cfg        *config.Config
	app        *app
}

// newRootCmd builds the command tree. The returned func closes whatever
// the executed command opened and is safe to call when nothing was opened.
func newRootCmd(open opener, out io.Writer) (*cobra.Command, func() error) {
	c := &cli{open: open, out: out}

	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Maintain the Cartridge game metadata cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFile(c.configPath)
			if err != nil {
				return err
			}
			logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "console", Output: cmd.ErrOrStderr()})
			c.cfg = cfg
			a, err := c.open(cfg)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: CONFIG_PATH or ./config.yaml)")

	root.AddCommand(
		c.statsCmd(),
		c.getCmd(),
		c.purgeCmd(),
		c.refreshStaleCmd(),
		c.forceRefreshCmd(),
		c.clearCmd(),
		c.warmUpCmd(),
	)
	return root, c.shutdown
}

func (c *cli) shutdown() error {
	if c.app == nil {
		return nil
	}
	err := c.app.close()
	c.app = nil
	return err
}

func (c *cli) print(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report whether popular, recent and stale records exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.print(c.app.cache.Stats(cmd.Context()))
		},
	}
}

func (c *cli) getCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Look up one game, refreshing from IGDB when stale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := c.app.cache.GetByID(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("game %s not found", args[0])
			}
			return c.print(rec)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "bypass freshness and refetch")
	return cmd
}

func (c *cli) purgeCmd() *cobra.Command {
	var olderThan string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete records not refreshed within the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			retention := c.cfg.Cache.PurgeRetention
			if olderThan != "" {
				d, err := config.ParseDuration(olderThan)
				if err != nil {
					return fmt.Errorf("invalid --older-than: %w", err)
				}
				retention = d
			}
			return c.print(map[string]int64{"purged": c.app.cache.Purge(cmd.Context(), retention)})
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "", "retention window, e.g. 7d or 36h (default: cache.purge_retention)")
	return cmd
}

func (c *cli) refreshStaleCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "refresh-stale",
		Short: "Refetch one batch of stale or force-flagged records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if batch <= 0 {
				batch = c.cfg.Cache.RefreshBatchSize
			}
			return c.print(c.app.cache.RefreshStaleBatch(cmd.Context(), batch))
		},
	}
	cmd.Flags().IntVar(&batch, "batch-size", 0, "records per batch (default: cache.refresh_batch_size)")
	return cmd
}

func (c *cli) forceRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-refresh <id>...",
		Short: "Flag records so the next read refetches them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.app.cache.MarkForceRefresh(cmd.Context(), args) {
				return errors.New("store rejected the force-refresh update")
			}
			return c.print(map[string]int{"marked": len(args)})
		},
	}
}

func (c *cli) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			if !c.app.cache.Clear(cmd.Context()) {
				return errors.New("store rejected the clear")
			}
			return c.print(map[string]bool{"cleared": true})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting all records")
	return cmd
}

func (c *cli) warmUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm-up",
		Short: "Purge expired records and prefetch popular and recent listings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ran := c.app.cache.WarmUp(cmd.Context())
			c.app.cache.Wait()
			return c.print(map[string]bool{"ran": ran})
		},
	}
}
