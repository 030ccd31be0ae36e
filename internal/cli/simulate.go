package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/devrev/softmatch/internal/config"
	"github.com/devrev/softmatch/internal/matching"
	"github.com/devrev/softmatch/internal/metrics"
	"github.com/devrev/softmatch/internal/notify"
	"github.com/devrev/softmatch/internal/queue"
	"github.com/devrev/softmatch/internal/scenario"
	"github.com/devrev/softmatch/internal/service"
	"github.com/devrev/softmatch/internal/stats"
	"github.com/devrev/softmatch/internal/util/workerpool"
	"github.com/devrev/softmatch/internal/validation"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	All      bool
	File     string
	TenantID int64
	Format   string
	DBPath   string
	Verbose  bool
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate [scenario...]",
		Short: "Replay matchmaking scenarios against an in-process engine",
		Long: `Replay built-in or file-based scenarios against a fresh in-process matchmaker
and compare the outcome with each scenario's expectation.

Built-in scenarios: ` + strings.Join(scenario.Names(), ", ") + `

Example:
  softmatch simulate --all
  softmatch simulate simple growth --format json
  softmatch simulate --file ./my-scenario.yaml --db ./sim.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), rootOpts, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "run every built-in scenario")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "run a scenario from a YAML file")
	cmd.Flags().Int64Var(&opts.TenantID, "tenant", 1, "tenant the scenario players queue in")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.Flags().StringVar(&opts.DBPath, "db", "", "record completions to this SQLite file")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log engine activity")

	return cmd
}

// SimulationReport is the outcome of one replayed scenario.
type SimulationReport struct {
	Result   *scenario.Result `json:"result"`
	Passed   bool             `json:"passed"`
	Mismatch string           `json:"mismatch,omitempty"`
}

func selectScenarios(opts *SimulateOptions, args []string) ([]*scenario.Scenario, error) {
	var selected []*scenario.Scenario

	if opts.All {
		all, err := scenario.Builtins()
		if err != nil {
			return nil, err
		}
		selected = append(selected, all...)
	}
	for _, name := range args {
		sc, err := scenario.Get(name)
		if err != nil {
			return nil, err
		}
		selected = append(selected, sc)
	}
	if opts.File != "" {
		sc, err := scenario.LoadFile(opts.File)
		if err != nil {
			return nil, err
		}
		selected = append(selected, sc)
	}

	if len(selected) == 0 {
		return nil, fmt.Errorf("no scenario selected: pass names, --all or --file")
	}
	return selected, nil
}

func runSimulate(ctx context.Context, out io.Writer, rootOpts *RootOptions, opts *SimulateOptions, args []string) error {
	if opts.Format != "text" && opts.Format != "json" {
		return WrapExitError(ExitCommandError, "invalid format", fmt.Errorf("unsupported format %q", opts.Format))
	}
	if opts.TenantID <= 0 {
		return WrapExitError(ExitCommandError, "invalid tenant", fmt.Errorf("tenant must be positive"))
	}

	scenarios, err := selectScenarios(opts, args)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to select scenarios", err)
	}

	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if opts.Verbose {
		logger = NewLogger(cfg.Logging.Level, "console")
		defer logger.Sync()
	}

	runner, closeFn, err := newSimulator(cfg, opts.DBPath, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize simulator", err)
	}
	defer closeFn()

	if ctx == nil {
		ctx = context.Background()
	}

	reports := make([]SimulationReport, 0, len(scenarios))
	failed := 0
	for _, sc := range scenarios {
		result, err := runner.Run(ctx, opts.TenantID, sc)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("scenario %s failed to run", sc.Name), err)
		}
		report := SimulationReport{Result: result, Passed: true}
		if mismatch := result.Check(sc.Expect); mismatch != nil {
			report.Passed = false
			report.Mismatch = mismatch.Error()
			failed++
		}
		reports = append(reports, report)
	}

	if err := writeReports(out, opts.Format, reports); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	if failed > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d of %d scenarios did not meet expectations", failed, len(reports))}
	}
	return nil
}

// newSimulator wires an in-process engine with synchronous delivery
func newSimulator(cfg *config.Config, dbPath string, logger *zap.Logger) (*scenario.Runner, func(), error) {
	var recorder stats.Recorder = &stats.Discard{}
	closeFn := func() {}

	if dbPath != "" {
		rec, err := stats.OpenSQLite(dbPath, Schedule(cfg), logger)
		if err != nil {
			return nil, nil, err
		}
		recorder = rec
		closeFn = func() {
			if err := rec.Close(); err != nil {
				logger.Warn("Failed to close simulation database", zap.Error(err))
			}
		}
	}

	m := metrics.NewNop()
	store := queue.NewStore(validation.NewValidator(Limits(cfg)), queue.WithLogger(logger))
	delivery := service.NewDelivery(notify.NewLogNotifier(logger), workerpool.Inline{Logger: logger}, m, logger)
	svc := service.NewMatchmakingService(store, matching.NewMatcher(Rules(cfg)), delivery, recorder, m, ServiceConfig(cfg), logger)

	return scenario.NewRunner(svc, Brackets(cfg), logger), closeFn, nil
}

func writeReports(out io.Writer, format string, reports []SimulationReport) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	for _, report := range reports {
		r := report.Result
		status := "PASS"
		if !report.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(out, "%-4s %-12s completed=%d awaiting=%d unmatched=%d largest_group=%d\n",
			status, r.Scenario, r.Completed, r.Awaiting, r.Unmatched, r.LargestGroup)
		for _, sess := range r.Sessions {
			fmt.Fprintf(out, "     session %s state=%s members=%d\n", sess.ID, sess.State, len(sess.Members))
		}
		if report.Mismatch != "" {
			for _, line := range strings.Split(report.Mismatch, "\n") {
				fmt.Fprintf(out, "     mismatch: %s\n", line)
			}
		}
	}
	return nil
}
