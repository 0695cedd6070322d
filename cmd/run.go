package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/signalnine/docprobe/internal/config"
	"github.com/signalnine/docprobe/internal/fixture"
	"github.com/signalnine/docprobe/internal/pricing"
	"github.com/signalnine/docprobe/internal/remote"
	"github.com/signalnine/docprobe/internal/report"
	"github.com/signalnine/docprobe/internal/result"
	"github.com/signalnine/docprobe/internal/runner"
	"github.com/spf13/cobra"
)

var (
	flagSizes    []string
	flagParallel int
	flagEngine   string
	flagModel    string
	flagNoSave   bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send every fixture and check the extracted verification codes",
		RunE:  runProbe,
	}
	cmd.Flags().StringSliceVar(&flagSizes, "size", nil, "limit to these size classes (repeatable)")
	cmd.Flags().IntVar(&flagParallel, "parallel", -1, "max concurrent requests (0 = all at once, default from config)")
	cmd.Flags().StringVar(&flagEngine, "engine", "", "file-parser engine (pdf-text, mistral-ocr, native)")
	cmd.Flags().StringVar(&flagModel, "model", "", "override the configured model")
	cmd.Flags().BoolVar(&flagNoSave, "no-save", false, "do not write results to the results directory")
	return cmd
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyRunOverrides(cfg); err != nil {
		return err
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	var table *pricing.Table
	if cfg.Pricing != "" {
		table, err = pricing.Load(cfg.Pricing)
		if err != nil {
			log.Warn().Err(err).Msg("pricing table unavailable, costs limited to server-reported values")
		}
	}

	classes := selectClasses(cfg.Fixtures.Classes, flagSizes)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Model: %s  engine: %s  fixtures: %s\n", cfg.Model, orDefault(cfg.Engine, "default"), cfg.Fixtures.Dir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now().UTC()
	b := &runner.Batch{
		Store:       fixture.NewStore(cfg.Fixtures.Dir),
		Adapter:     client,
		Model:       cfg.Model,
		Instruction: cfg.Instruction,
		Options: remote.Options{
			Engine:          cfg.Engine,
			MaxTokens:       cfg.MaxTokens,
			Reasoning:       cfg.Reasoning,
			UsageAccounting: cfg.Usage,
		},
		Concurrency: cfg.Concurrency,
		Pricing:     table,
		Logger:      log.With().Str("component", "batch").Logger(),
		OnResult:    func(pr result.ProbeResult) { report.Narrate(out, pr) },
	}
	rep := b.RunAll(ctx, classes)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	rep.RunID = uuid.NewString()
	rep.StartedAt = started

	if !flagNoSave {
		runDir, err := result.CreateRunDir(cfg.Results.Dir)
		if err != nil {
			return err
		}
		if err := result.WriteReport(runDir, rep); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		log.Debug().Str("run_dir", runDir).Msg("report saved")
	}

	fmt.Fprintln(out)
	report.Summary(out, rep)
	if !rep.OK() {
		return ErrChecksFailed
	}
	return nil
}

func applyRunOverrides(cfg *config.Config) error {
	if flagModel != "" {
		cfg.Model = flagModel
	}
	if flagEngine != "" {
		if !config.ValidEngine(flagEngine) {
			return fmt.Errorf("unknown engine %q", flagEngine)
		}
		cfg.Engine = flagEngine
	}
	if flagParallel >= 0 {
		cfg.Concurrency = flagParallel
	}
	return nil
}

// selectClasses keeps the configured order unless sizes were given, in which
// case the given order wins. Unknown sizes are kept so they surface as
// missing fixtures in the report.
func selectClasses(configured, sizes []string) []fixture.SizeClass {
	names := configured
	if len(sizes) > 0 {
		names = nil
		seen := make(map[string]bool)
		for _, s := range sizes {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			names = append(names, s)
		}
	}
	classes := make([]fixture.SizeClass, 0, len(names))
	for _, n := range names {
		classes = append(classes, fixture.SizeClass(n))
	}
	return classes
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
