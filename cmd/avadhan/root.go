package main

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/avadhan/config"
	"github.com/becomeliminal/avadhan/core"
	"github.com/becomeliminal/avadhan/encoder"
	"github.com/becomeliminal/avadhan/engine"
	"github.com/becomeliminal/avadhan/memory"
	"github.com/becomeliminal/avadhan/memory/store/chromem"
	"github.com/becomeliminal/avadhan/summarize"
)

var (
	configPath string
	regimeFlag string
	seedFlag   uint64
)

var rootCmd = &cobra.Command{
	Use:   "avadhan",
	Short: "Avadhan - a slot/attention working-memory engine",
	Long: `Avadhan maintains a capacity-bounded set of orthogonal memory slots,
weights them with a softmax attention budget and consolidates evicted
threads into episodic and semantic gists.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&regimeFlag, "regime", "", "Slot regime: ashta, shata or sahasra")
	rootCmd.PersistentFlags().Uint64Var(&seedFlag, "seed", 0, "Seed for encoder noise and rewards (0 = random)")
}

// loadConfig reads the config file and applies the --regime flag.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if regimeFlag != "" {
		cfg.Engine = cfg.Engine.WithRegime(core.Regime(regimeFlag))
		if err := cfg.Engine.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// newEncoder builds the shared encoder with a feature cache.
func newEncoder(cfg config.Config) (*encoder.Encoder, error) {
	opts := []encoder.Option{}
	if cfg.Memory.CacheVectors > 0 {
		cache, err := encoder.NewFeatureCache(cfg.Memory.CacheVectors, cfg.Engine.EncoderDim)
		if err != nil {
			return nil, fmt.Errorf("creating feature cache: %w", err)
		}
		opts = append(opts, encoder.WithCache(cache))
	}
	if seedFlag != 0 {
		opts = append(opts, encoder.WithSeed(seedFlag))
	}
	return encoder.New(cfg.Engine.EncoderDim, opts...), nil
}

// newService wires the gist index, summarizer and archive from config.
func newService(cfg config.Config, enc *encoder.Encoder, extra ...engine.ServiceOption) (*engine.Service, error) {
	store, err := chromem.New()
	if err != nil {
		return nil, fmt.Errorf("creating gist index: %w", err)
	}
	recaller := memory.NewRecaller(store, enc, &memory.Config{
		Enabled:       true,
		MinSimilarity: cfg.Memory.MinSimilarity,
		MaxResults:    cfg.Memory.MaxResults,
	})

	var summarizer summarize.Summarizer = summarize.Template{}
	if cfg.Summary.APIKey != "" {
		reqOpts := []option.RequestOption{option.WithAPIKey(cfg.Summary.APIKey)}
		if cfg.Summary.BaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(cfg.Summary.BaseURL))
		}
		summarizer = summarize.NewAnthropic(reqOpts, summarize.WithModel(cfg.Summary.Model))
	}

	engineOpts := []engine.Option{engine.WithEncoder(enc), engine.WithGistTTL(cfg.Memory.GistTTL)}
	if seedFlag != 0 {
		engineOpts = append(engineOpts, engine.WithSeed(seedFlag))
	}

	opts := append([]engine.ServiceOption{
		engine.WithRecaller(recaller),
		engine.WithSummarizer(summarizer),
		engine.WithArchiveSize(cfg.Server.ArchiveSize),
		engine.WithEngineOptions(engineOpts...),
	}, extra...)
	return engine.NewService(opts...), nil
}
