package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/signalnine/docprobe/internal/config"
	"github.com/signalnine/docprobe/internal/fixture"
	"github.com/signalnine/docprobe/internal/remote"
	"github.com/signalnine/docprobe/internal/result"
	"github.com/signalnine/docprobe/internal/runner"
	"github.com/spf13/cobra"
)

const defaultProbeInstruction = "Reply with the single word OK."

var (
	flagControl    bool
	flagProbeModel string
	flagProbeLabel string
	flagProbeSize  string
	flagProbeSave  bool
)

func newCacheProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache-probe",
		Short: "Send one request twice and check whether the second call reports cached tokens",
		RunE:  runCacheProbe,
	}
	cmd.Flags().BoolVar(&flagControl, "control", false, "send no cache directive; both calls should report zero cached tokens")
	cmd.Flags().StringVar(&flagProbeModel, "model", "", "override the cache-probe model")
	cmd.Flags().StringVar(&flagProbeLabel, "label", "", "name recorded with the result")
	cmd.Flags().StringVar(&flagProbeSize, "size", "", "attach the fixture of this size class to both calls")
	cmd.Flags().BoolVar(&flagProbeSave, "save", true, "write the result to the results directory")
	return cmd
}

func runCacheProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if flagProbeModel != "" {
		cfg.CacheProbe.Model = flagProbeModel
	}

	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	prefix, err := loadPrefix(cfg.CacheProbe.PrefixFile)
	if err != nil {
		return err
	}
	if n := remote.NewTokenCounter().Count(prefix); n < remote.MinCacheableTokens {
		log.Warn().Int("tokens", n).Int("minimum", remote.MinCacheableTokens).
			Msg("cache prefix is below the usual minimum cacheable length")
	}

	var document, filename string
	if flagProbeSize != "" {
		class := fixture.SizeClass(strings.ToLower(flagProbeSize))
		store := fixture.NewStore(cfg.Fixtures.Dir)
		document, err = store.ReadDataURI(class)
		if err != nil {
			return err
		}
		filename = "test-" + string(class) + ".pdf"
	}

	label := flagProbeLabel
	if label == "" {
		label = probeLabel(cfg.CacheProbe.Model, flagControl)
	}

	build := probeRequestBuilder(cfg, prefix, document, filename, flagControl, time.Now().UTC())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cache probe: %s  model: %s  control: %t\n", label, cfg.CacheProbe.Model, flagControl)

	probe := &runner.CacheProbe{
		Adapter: client,
		Delay:   cfg.CacheProbe.Delay,
		Logger:  log.With().Str("component", "cache-probe").Logger(),
	}
	pair, err := probe.RunPair(ctx, label, build, flagControl)
	if err != nil {
		return err
	}
	printPair(out, pair)

	if flagProbeSave {
		runDir, err := result.CreateRunDir(cfg.Results.Dir)
		if err != nil {
			return err
		}
		if err := result.WriteCacheProbe(runDir, pair); err != nil {
			return fmt.Errorf("writing cache probe: %w", err)
		}
		log.Debug().Str("run_dir", runDir).Msg("cache probe saved")
	}

	if !pair.Passed() {
		return ErrChecksFailed
	}
	return nil
}

// probeRequestBuilder returns a builder that yields the same request on every
// call. The timestamp suffix is fixed at startup and sits outside the cached
// part.
func probeRequestBuilder(cfg *config.Config, prefix, document, filename string, control bool, now time.Time) func() *remote.Request {
	instruction := cfg.CacheProbe.Instruction
	if instruction == "" {
		instruction = defaultProbeInstruction
	}
	suffix := "Request time: " + now.Format(time.RFC3339)
	return func() *remote.Request {
		return &remote.Request{
			Model:       cfg.CacheProbe.Model,
			Instruction: instruction,
			Document:    document,
			Filename:    filename,
			Options: remote.Options{
				Engine:          cfg.Engine,
				CacheControl:    !control,
				CachePrefix:     prefix,
				Suffix:          suffix,
				MaxTokens:       16,
				UsageAccounting: true,
			},
		}
	}
}

func probeLabel(model string, control bool) string {
	if control {
		return model + " (control)"
	}
	return model
}

func loadPrefix(path string) (string, error) {
	if path == "" {
		return defaultCachePrefix(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading cache prefix: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", fmt.Errorf("cache prefix %s is empty", path)
	}
	return string(data), nil
}

// defaultCachePrefix builds a stable reference text well above the minimum
// cacheable length. It must not change between calls.
func defaultCachePrefix() string {
	var b strings.Builder
	b.WriteString("You are a document verification assistant. The following reference table lists archive sections and their retention rules.\n\n")
	for i := 1; i <= 120; i++ {
		fmt.Fprintf(&b, "Section %03d: records in this section are retained for %d days and reviewed every %d weeks by the archive team.\n", i, 30+i*7%365, 1+i%12)
	}
	return b.String()
}

func printPair(w io.Writer, p *result.CacheProbePair) {
	fmt.Fprintf(w, "  first call:  prompt=%d cached=%d\n", p.First.PromptTokens, p.CachedFirst)
	fmt.Fprintf(w, "  second call: prompt=%d cached=%d\n", p.Second.PromptTokens, p.CachedSecond)
	if !p.BodiesIdentical {
		fmt.Fprintln(w, "  warning: request bodies differed between calls")
	}
	status := "PASS"
	if !p.Passed() {
		status = "FAIL"
	}
	fmt.Fprintf(w, "[%s] %s\n", status, p.Classification)
}
