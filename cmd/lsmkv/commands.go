package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lsmkv/pkg/config"
	"lsmkv/pkg/db"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/dump"
	"lsmkv/pkg/metrics"
	"lsmkv/pkg/store"
)

type app struct {
	configPath string
	dir        string

	cfg       config.Config
	collector *metrics.Prometheus
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "lsmkv",
		Short:        "embedded LSM key-value store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initConfig(a.configPath)
			if err != nil {
				return err
			}
			if a.dir != "" {
				cfg.Persistence.RootPath = a.dir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			initLogger(&cfg, cmd.ErrOrStderr())
			a.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "config.yaml", "path to the YAML config")
	root.PersistentFlags().StringVar(&a.dir, "dir", "", "data directory, overrides db.persistence.path")

	root.AddCommand(
		a.getCmd(),
		a.putCmd(),
		a.delCmd(),
		a.scanCmd(),
		a.flushCmd(),
		a.compactCmd(),
		a.statsCmd(),
		a.dumpCmd(),
		a.loadCmd(),
	)

	return root
}

// withStore opens the store for the duration of fn.
func (a *app) withStore(fn func(s *store.Store) error) (err error) {
	a.collector = metrics.NewPrometheus()
	s, err := store.Open(a.cfg, store.WithCollector(a.collector))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	return fn(s)
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store.Store) error {
				v, err := s.Get([]byte(args[0]))
				if errors.Is(err, dberrors.ErrNotFound) {
					return fmt.Errorf("key %q not found", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(v))
				return nil
			})
		},
	}
}

func (a *app) putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Stores a value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store.Store) error {
				return s.Upsert([]byte(args[0]), []byte(args[1]))
			})
		},
	}
}

func (a *app) delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del [key]",
		Short: "Removes a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store.Store) error {
				return s.Remove([]byte(args[0]))
			})
		},
	}
}

func (a *app) scanCmd() *cobra.Command {
	var (
		from, to string
		opts     db.SearchOptions
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Lists live records in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var start, end []byte
			if cmd.Flags().Changed("from") {
				start = []byte(from)
			}
			if cmd.Flags().Changed("to") {
				end = []byte(to)
			}

			return a.withStore(func(s *store.Store) error {
				out := cmd.OutOrStdout()
				return db.SearchRange(s, start, end, opts, func(r db.SearchResult) error {
					_, err := fmt.Fprintf(out, "%s\t%s\n", r.Key, r.Value)
					return err
				})
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "lowest key to include")
	cmd.Flags().StringVar(&to, "to", "", "highest key to include")
	cmd.Flags().BoolVar(&opts.Reverse, "reverse", false, "iterate in descending key order")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of records, 0 for all")

	return cmd
}

func (a *app) flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Writes pending writes to a new SSTable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store.Store) error {
				return s.Flush()
			})
		},
	}
}

func (a *app) compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Merges all SSTables into one and drops tombstones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store.Store) error {
				return s.Compact()
			})
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	var withMetrics bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Prints the shape of the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store.Store) error {
				stats, err := s.Stats()
				if err != nil {
					return err
				}

				gens := make([]string, 0, len(stats.Generations))
				for _, g := range stats.Generations {
					gens = append(gens, fmt.Sprint(g))
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "dir:              %s\n", a.cfg.Persistence.RootPath)
				fmt.Fprintf(out, "tables:           %d [%s]\n", stats.Tables, strings.Join(gens, " "))
				fmt.Fprintf(out, "table bytes:      %d\n", stats.TableBytes)
				fmt.Fprintf(out, "next generation:  %d\n", stats.NextGeneration)
				fmt.Fprintf(out, "memtable entries: %d\n", stats.MemtableEntries)
				fmt.Fprintf(out, "memtable bytes:   %d\n", stats.MemtableBytes)

				if withMetrics {
					return a.collector.WriteText(out)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "also print metrics in Prometheus text format")

	return cmd
}

func (a *app) dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump [file]",
		Short: "Writes every live record to a zstd-compressed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store.Store) (err error) {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer func() {
					err = errors.Join(err, f.Close())
				}()

				it, err := s.Iterate(nil)
				if err != nil {
					return err
				}
				defer func() {
					err = errors.Join(err, it.Close())
				}()

				stats, err := dump.Write(f, it)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "dumped %d records (%d bytes)\n", stats.Records, stats.CompressedSize)
				return nil
			})
		},
	}
}

func (a *app) loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load [file]",
		Short: "Upserts every record of a dump file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(func(s *store.Store) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				n, err := dump.Read(f, func(key, value []byte) error {
					return s.Upsert(key, value)
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "loaded %d records\n", n)
				return nil
			})
		},
	}
}
