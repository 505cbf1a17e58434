package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/algorand/go-deadlock"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chainexport/csvstore/api"
	"github.com/chainexport/csvstore/config"
	"github.com/chainexport/csvstore/importer"
	"github.com/chainexport/csvstore/loggers"
	"github.com/chainexport/csvstore/storage"
	"github.com/chainexport/csvstore/store"
	"github.com/chainexport/csvstore/util"
	"github.com/chainexport/csvstore/util/metrics"
	"github.com/chainexport/csvstore/version"
)

type runFlags struct {
	dataDir           string
	input             string
	logLevel          string
	logFile           string
	pidFile           string
	keepServing       bool
	deadlockDetection bool
}

// loadConfig reads csvstore.yml and applies the flag overrides.
func loadConfig(dataDir, logLevel, logFile, pidFile string) (*config.Config, error) {
	cfg, err := config.Load(dataDir)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if pidFile != "" {
		cfg.PIDFilePath = pidFile
	}
	return cfg, nil
}

// makeLogger builds the root logger described by the config. Output goes to
// out unless a log file is configured.
func makeLogger(cfg *config.Config, out io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	return loggers.MakeLoggerManager(out).MakeRootLogger(level, cfg.LogFile)
}

// openDatabase opens the destination and connects the database to it. The
// returned height is the last one durably written.
func openDatabase(ctx context.Context, cfg *config.Config, root *log.Logger) (*store.Database, int64, error) {
	dest := cfg.ResolvedDestination()
	fs, err := storage.Open(dest, cfg.StorageOptions(loggers.MakeComponentLogger(root, loggers.TypeStorage, dest)))
	if err != nil {
		return nil, 0, fmt.Errorf("opening destination %s: %w", dest, err)
	}
	opts, err := cfg.DatabaseOptions(loggers.MakeComponentLogger(root, loggers.TypeStore, "database"))
	if err != nil {
		return nil, 0, err
	}
	db, err := store.NewDatabase(fs, opts)
	if err != nil {
		return nil, 0, err
	}
	height, err := db.Connect(ctx)
	if err != nil {
		return nil, 0, err
	}
	return db, height, nil
}

func openInput(name string, stdin io.Reader) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}

// runExport imports the input and serves the status API until the import is
// done, or until ctx is canceled when keepServing is set or there is no input.
func runExport(ctx context.Context, rf *runFlags, stdin io.Reader, stdout io.Writer) error {
	deadlock.Opts.Disable = !rf.deadlockDetection

	cfg, err := loadConfig(rf.dataDir, rf.logLevel, rf.logFile, rf.pidFile)
	if err != nil {
		return err
	}
	root, err := makeLogger(cfg, stdout)
	if err != nil {
		return err
	}

	if cfg.PIDFilePath != "" {
		if err := util.CreatePidFile(root, cfg.PIDFilePath); err != nil {
			return err
		}
		defer util.RemovePidFile(root, cfg.PIDFilePath)
	}

	metrics.RegisterPrometheusMetrics()

	db, resume, err := openDatabase(ctx, cfg, root)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.API.Addr == "" && rf.input == "" {
		return errors.New("nothing to do: no input given and the status API is disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	if cfg.API.Addr != "" {
		apiLogger := loggers.MakeComponentLogger(root, loggers.TypeAPI, "status")
		g.Go(func() error {
			return api.Serve(serveCtx, cfg.API.Addr, db, apiLogger, api.ExtraOptions{
				MetricsEndpoint: cfg.API.Metrics,
				Version:         version.Version(),
			})
		})
	}

	if rf.input != "" {
		tables, err := cfg.BuildTables()
		if err != nil {
			return err
		}
		imp, err := importer.New(db, tables, cfg.Importer.Window, loggers.MakeComponentLogger(root, loggers.TypeImporter, "jsonl"))
		if err != nil {
			return err
		}
		g.Go(func() error {
			r, err := openInput(rf.input, stdin)
			if err != nil {
				return err
			}
			defer r.Close()

			root.Infof("importing rows above height %d", resume)
			if _, err := imp.Import(gctx, r, resume); err != nil {
				return err
			}
			if !rf.keepServing {
				stopServing()
			}
			return nil
		})
	} else {
		root.Info("no input given, serving until interrupted")
	}

	return g.Wait()
}

func makeRunCmd() *cobra.Command {
	var rf runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "import rows and serve the status API",
		Long: `Connects to the destination configured in the data directory, imports
JSON-lines rows above the committed height and flushes at the end of input.
The status API is served while the import runs.`,
		Example: "csvstore run -d /path/to/data -i rows.jsonl",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.BindFlagSet(cmd.Flags())
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runExport(ctx, &rf, cmd.InOrStdin(), cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&rf.dataDir, "data-dir", "d", "", "data directory holding csvstore.yml")
	cmd.Flags().StringVarP(&rf.input, "input", "i", "", "JSON-lines file to import, '-' reads standard input")
	cmd.Flags().StringVarP(&rf.logLevel, "log-level", "l", "", "overrides log-level from the config file")
	cmd.Flags().StringVarP(&rf.logFile, "log-file", "f", "", "overrides log-file from the config file")
	cmd.Flags().StringVar(&rf.pidFile, "pidfile", "", "overrides pid-filepath from the config file")
	cmd.Flags().BoolVar(&rf.keepServing, "keep-serving", false, "keep serving the status API after the input is imported")
	cmd.Flags().BoolVar(&rf.deadlockDetection, "deadlock-detection", false, "report lock misuse in the database")

	return cmd
}
