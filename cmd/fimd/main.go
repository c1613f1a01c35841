package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zeebo/blake3"

	"fimd/internal/config"
	"fimd/internal/event"
	"fimd/internal/filter"
	"fimd/internal/reconcile"
	"fimd/internal/scan"
	"fimd/internal/store"
	"fimd/internal/watch"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

var _ pflag.Value = (*filterFlag)(nil)

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "string" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

type app struct {
	configPath string
	dbPath     string
	verbose    bool
	quiet      bool

	roots       []string
	workers     int
	filesPerSec float64
	sha256      bool
	chain       *filter.Chain

	cfg config.Config
}

// setup loads the config file and configures logging. Called before every
// subcommand.
func (a *app) setup(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	} else if a.quiet {
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))

	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFrom(a.configPath)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	// Flags win over the config file; the config fills gaps.
	if len(a.roots) == 0 {
		a.roots = a.cfg.Scan.Roots
	}
	if !cmd.Flags().Changed("workers") && a.cfg.Scan.Workers != nil {
		a.workers = *a.cfg.Scan.Workers
	}
	if !cmd.Flags().Changed("files-per-sec") && a.cfg.Scan.FilesPerSec != nil {
		a.filesPerSec = *a.cfg.Scan.FilesPerSec
	}
	if !cmd.Flags().Changed("sha256") && a.cfg.Scan.SHA256 != nil {
		a.sha256 = *a.cfg.Scan.SHA256
	}
	if a.chain.Empty() {
		a.chain, err = a.cfg.FilterChain()
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *app) openStore() (*store.Store, error) {
	path := a.dbPath
	if path == "" {
		path = a.cfg.StorePath()
	}
	interval, err := a.cfg.CommitInterval()
	if err != nil {
		return nil, err
	}
	return store.Open(path, store.WithCommitInterval(interval))
}

func (a *app) scanConfig() scan.Config {
	return scan.Config{
		Roots:       a.roots,
		Workers:     a.workers,
		Filter:      a.chain,
		FilesPerSec: a.filesPerSec,
		SHA256:      a.sha256,
	}
}

func (a *app) requireRoots() error {
	if len(a.roots) == 0 {
		return fmt.Errorf("no roots to scan; pass --root or set scan.roots in %s", config.Path())
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func run() int {
	a := &app{chain: filter.NewChain()}

	rootCmd := &cobra.Command{
		Use:           "fimd",
		Short:         "File integrity monitoring agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default "+config.Path()+")")
	pf.StringVar(&a.dbPath, "db", "", "entry database path")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "warnings and errors only")
	pf.StringArrayVar(&a.roots, "root", nil, "directory to monitor (repeatable)")
	pf.IntVar(&a.workers, "workers", 0, "scan workers (default NumCPU, capped at 8)")
	pf.Float64Var(&a.filesPerSec, "files-per-sec", 0, "scan rate limit, 0 for unlimited")
	pf.BoolVar(&a.sha256, "sha256", false, "record SHA-256 digests alongside BLAKE3")
	pf.Var(&filterFlag{chain: a.chain}, "exclude", "glob pattern to skip (repeatable)")
	pf.Var(&filterFlag{chain: a.chain, include: true}, "include", "glob pattern to keep despite a later exclude (repeatable)")

	rootCmd.AddCommand(
		scanCmd(a),
		watchCmd(a),
		checkCmd(a),
		diffCmd(a),
		sweepCmd(a),
		listCmd(a),
		cleanCmd(a),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("fimd failed", "error", err)
		return 1
	}
	return 0
}

func scanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one full scan cycle and sweep deleted entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireRoots(); err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signalContext()
			defer stop()

			snap, err := scan.NewController(st, a.scanConfig()).Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, snap)
			return nil
		},
	}
}

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Scan once, then track filesystem changes until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireRoots(); err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signalContext()
			defer stop()

			events := make(chan event.Event, 256)
			go reportEvents(events)

			cfg := a.scanConfig()
			cfg.Events = events
			if _, err := scan.NewController(st, cfg).Run(ctx); err != nil {
				return err
			}

			err = watch.New(st, watch.Config{
				Roots:  a.roots,
				Filter: a.chain,
				SHA256: a.sha256,
				Events: events,
			}).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// reportEvents prints per-file changes as they happen.
func reportEvents(events <-chan event.Event) {
	for e := range events {
		switch e.Type {
		case event.FileAdded, event.FileModified, event.EntryRemoved:
			slog.Info(e.Type.String(), "path", e.Path, "size", e.Size, "digest", e.Digest)
		case event.FileFailed:
			slog.Warn(e.Type.String(), "path", e.Path, "error", e.Error)
		}
	}
}

func checkCmd(a *app) *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Print the aggregate checksum of the entry set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (start == "") != (end == "") {
				return errors.New("--start and --end must be given together")
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			h := blake3.New()
			if start != "" {
				err = st.RangeChecksum(start, end, h)
			} else {
				err = st.DataChecksum(h)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, hex.EncodeToString(h.Sum(nil)))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first path of the range, inclusive")
	cmd.Flags().StringVar(&end, "end", "", "last path of the range, inclusive")
	return cmd
}

func diffCmd(a *app) *cobra.Command {
	var threshold int64
	cmd := &cobra.Command{
		Use:   "diff <baseline.db>",
		Short: "Compare the entry set against a baseline database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			base, err := store.Open(args[0])
			if err != nil {
				return err
			}
			defer base.Close()

			ctx, stop := signalContext()
			defer stop()

			d, err := reconcile.New(
				reconcile.NewLocalView(st),
				reconcile.NewLocalView(base),
				reconcile.WithThreshold(threshold),
			).Run(ctx)
			if err != nil {
				return err
			}
			for _, p := range d.OnlyLocal {
				fmt.Fprintf(os.Stdout, "+ %s\n", p)
			}
			for _, p := range d.OnlyRemote {
				fmt.Fprintf(os.Stdout, "- %s\n", p)
			}
			for _, p := range d.Changed {
				fmt.Fprintf(os.Stdout, "~ %s\n", p)
			}
			if !d.Empty() {
				return fmt.Errorf("%d entries diverge from the baseline", d.Total())
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&threshold, "threshold", reconcile.DefaultThreshold, "range size below which paths are enumerated")
	return cmd
}

func sweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove entries left unscanned by an interrupted cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			removed, err := st.SweepUnscanned(func(e store.Entry) {
				fmt.Fprintln(os.Stdout, e.Path)
			})
			if err != nil {
				return err
			}
			slog.Info("sweep complete", "removed", removed)
			return st.ForceCommit()
		},
	}
}

func listCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Dump all entries in path order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			return st.All(func(e store.Entry) error {
				fmt.Fprintf(os.Stdout, "%s\t%d\t%s\n", e.Path, e.Attrs.Size, e.Attrs.BLAKE3)
				return nil
			})
		},
	}
}

func cleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Wipe the entry database and start fresh",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Clean(); err != nil {
				return err
			}
			slog.Info("database cleaned", "path", st.Path())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fimd version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "fimd %s\n", version)
		},
	}
}
