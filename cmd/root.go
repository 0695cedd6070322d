package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/signalnine/docprobe/internal/config"
	"github.com/signalnine/docprobe/internal/remote"
	"github.com/spf13/cobra"
)

// ErrChecksFailed is returned when the run completed but at least one case
// or probe did not pass. main maps it to exit status 1 without printing.
var ErrChecksFailed = errors.New("checks failed")

const defaultConfigFile = "docprobe.yaml"

var (
	cfgFile string
	verbose bool
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "docprobe",
		Short:         "Verify that an LLM routing API really reads attached documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(verbose)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigFile, "config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.AddCommand(newRunCmd())
	root.AddCommand(newCacheProbeCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	return root
}

func setupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

// loadConfig reads the config file. The default path may be absent, in which
// case built-in defaults apply; an explicit --config must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	explicit := cmd.Flag("config") != nil && cmd.Flag("config").Changed
	if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) && !explicit {
		log.Debug().Str("path", cfgFile).Msg("no config file, using defaults")
		cfg = config.Default()
	} else {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := applySecrets(cfg.Secrets.EnvFile); err != nil {
		log.Warn().Err(err).Msg("could not load secrets")
	}
	return cfg, nil
}

// applySecrets loads the optional env file. A file that does not exist is
// not an error.
func applySecrets(path string) error {
	if path == "" {
		return nil
	}
	applied, err := config.ApplyEnvFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("path", path).Msg("no secrets file")
		return nil
	}
	if err != nil {
		return err
	}
	log.Debug().Strs("keys", applied).Msg("loaded secrets")
	return nil
}

// newClient builds the shared client. It fails before any network activity
// when the API key is missing.
func newClient(cfg *config.Config) (*remote.OpenAIClient, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return remote.NewOpenAIClient(remote.ClientOptions{
		BaseURL: env.BaseURL,
		APIKey:  env.APIKey,
		Timeout: cfg.Timeout,
		Referer: cfg.Attribution.Referer,
		Title:   cfg.Attribution.Title,
	}), nil
}
