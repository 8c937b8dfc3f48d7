package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/talentsift/matchcore"
	"github.com/talentsift/matchcore/embed"
	"github.com/talentsift/matchcore/embed/gemini"
	"github.com/talentsift/matchcore/embed/hashing"
	"github.com/talentsift/matchcore/model"
)

const app = "matchcore"

// Config is the file-based configuration, read from matchcore.yaml or the
// file given with --config.
type Config struct {
	Backend  string         `mapstructure:"backend"`
	Snapshot string         `mapstructure:"snapshot"`
	Hashing  *HashingConfig `mapstructure:"hashing"`
	Gemini   *GeminiConfig  `mapstructure:"gemini"`
	Weights  *WeightsConfig `mapstructure:"weights"`
	Drift    *DriftConfig   `mapstructure:"drift"`
}

type HashingConfig struct {
	Dimension int `mapstructure:"dimension"`
}

type GeminiConfig struct {
	APIKey            string  `mapstructure:"api-key"`
	Model             string  `mapstructure:"model"`
	Dimension         int     `mapstructure:"dimension"`
	RequestsPerSecond float64 `mapstructure:"requests-per-second"`
}

type WeightsConfig struct {
	Vector     float64 `mapstructure:"vector"`
	Structured float64 `mapstructure:"structured"`
}

type DriftConfig struct {
	WindowSize   int     `mapstructure:"window-size"`
	PSIThreshold float64 `mapstructure:"psi-threshold"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "matchcore is a semantic candidate/job matching engine",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("gemini.api-key", "GEMINI_API_KEY"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is matchcore.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
		viper.SetConfigType("yaml")
	}

	// A missing config file is fine; the hashing backend needs none.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, err
	}
	return config, nil
}

func newLogger() *matchcore.Logger {
	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	if viper.GetBool("json") {
		return matchcore.NewJSONLogger(level)
	}
	return matchcore.NewTextLogger(level)
}

// newBackend builds the embedding backend named in the config. The default
// is the deterministic offline hashing backend.
func newBackend(ctx context.Context, config *Config) (embed.Generator, error) {
	switch config.Backend {
	case "", "hashing":
		return hashing.New(func(o *hashing.Options) {
			if config.Hashing != nil && config.Hashing.Dimension > 0 {
				o.Dimension = config.Hashing.Dimension
			}
		}), nil
	case "gemini":
		if config.Gemini == nil {
			return nil, fmt.Errorf("backend %q requires a gemini config section", config.Backend)
		}
		return gemini.New(ctx, config.Gemini.APIKey, func(o *gemini.Options) {
			if config.Gemini.Model != "" {
				o.Model = config.Gemini.Model
			}
			if config.Gemini.Dimension > 0 {
				o.Dimension = config.Gemini.Dimension
			}
			if config.Gemini.RequestsPerSecond > 0 {
				o.RequestsPerSecond = config.Gemini.RequestsPerSecond
			}
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", config.Backend)
	}
}

func newEngine(ctx context.Context, config *Config, extra ...matchcore.Option) (*matchcore.Engine, error) {
	backend, err := newBackend(ctx, config)
	if err != nil {
		return nil, err
	}

	opts := []matchcore.Option{matchcore.WithLogger(newLogger())}
	if config.Weights != nil {
		opts = append(opts, matchcore.WithDefaultWeights(model.Weights{
			Vector:     config.Weights.Vector,
			Structured: config.Weights.Structured,
		}))
	}
	opts = append(opts, extra...)

	return matchcore.New(backend, opts...)
}
