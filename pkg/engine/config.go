package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/graphnet/pkg/graph"
	"github.com/sanonone/graphnet/pkg/optim"
	"github.com/sanonone/graphnet/pkg/train"
)

// ErrUnknownOptimizer is returned for an optimizer type other than gd, adam or newton.
var ErrUnknownOptimizer = errors.New("unknown optimizer type")

// OptimizerConfig selects and tunes the step rule.
type OptimizerConfig struct {
	// Type is "gd", "adam" or "newton".
	Type         string  `yaml:"type"`
	LearningRate float64 `yaml:"learning_rate"`
	// Adam moments. Zero keeps the Adam defaults.
	Beta1   float64 `yaml:"beta1"`
	Beta2   float64 `yaml:"beta2"`
	Epsilon float64 `yaml:"epsilon"`
	// Newton damping. Zero keeps the Newton default.
	Damping float64 `yaml:"damping"`
}

// Config holds every tunable of a training session.
type Config struct {
	// CatastropheLimit is K, the outcomes kept per node per step.
	CatastropheLimit int `yaml:"catastrophe_limit"`
	// Workers bounds intra-step parallelism. 0 = one per physical core.
	Workers int    `yaml:"workers"`
	Seed    uint64 `yaml:"seed"`
	// InitScale bounds the random initialization of weight-table rows.
	InitScale float64 `yaml:"init_scale"`
	// NormalizeByVolume divides outcome weights by their node-step probability volume.
	NormalizeByVolume bool `yaml:"normalize_by_volume"`
	// PruneWarnRate is the discarded fraction above which enumeration warns.
	PruneWarnRate float64 `yaml:"prune_warn_rate"`
	// SampledEmission makes filters draw delivery instead of attaching probabilities.
	SampledEmission bool `yaml:"sampled_emission"`
	// FilterRate is the fraction of the gap each adjuster closes per episode.
	FilterRate float64         `yaml:"filter_rate"`
	Epochs     int             `yaml:"epochs"`
	Optimizer  OptimizerConfig `yaml:"optimizer"`
}

// DefaultConfig returns K = 10, Adam at 0.01 and 100 epochs.
func DefaultConfig() Config {
	return Config{
		CatastropheLimit: graph.DefaultCatastropheLimit,
		Workers:          0,
		Seed:             1,
		InitScale:        0.1,
		PruneWarnRate:    0.9,
		FilterRate:       0.1,
		Epochs:           100,
		Optimizer: OptimizerConfig{
			Type:         "adam",
			LearningRate: 0.01,
		},
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
// Environment variables in the file are expanded and unknown fields are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	switch {
	case c.CatastropheLimit < 0:
		return fmt.Errorf("catastrophe_limit must be >= 0, got %d", c.CatastropheLimit)
	case c.Workers < 0:
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	case c.Epochs < 0:
		return fmt.Errorf("epochs must be >= 0, got %d", c.Epochs)
	case c.Optimizer.LearningRate <= 0:
		return fmt.Errorf("optimizer.learning_rate must be > 0, got %v", c.Optimizer.LearningRate)
	case c.PruneWarnRate < 0 || c.PruneWarnRate > 1:
		return fmt.Errorf("prune_warn_rate must be in [0,1], got %v", c.PruneWarnRate)
	}
	_, err := c.NewOptimizer()
	return err
}

// NetworkOptions returns the graph options the config describes.
func (c Config) NetworkOptions(logger *slog.Logger) graph.Options {
	opts := graph.DefaultOptions()
	if c.CatastropheLimit > 0 {
		opts.CatastropheLimit = c.CatastropheLimit
	}
	if c.Workers > 0 {
		opts.Workers = c.Workers
	}
	if c.InitScale > 0 {
		opts.InitScale = c.InitScale
	}
	opts.Seed = c.Seed
	opts.PruneWarnRate = c.PruneWarnRate
	opts.SampledEmission = c.SampledEmission
	opts.Logger = logger
	return opts
}

// TrainOptions returns the trainer options the config describes.
func (c Config) TrainOptions(logger *slog.Logger) train.Options {
	opts := train.DefaultOptions()
	if c.Workers > 0 {
		opts.Workers = c.Workers
	}
	opts.NormalizeByVolume = c.NormalizeByVolume
	opts.Logger = logger
	return opts
}

// NewOptimizer builds the configured step rule.
func (c Config) NewOptimizer() (optim.Optimizer, error) {
	oc := c.Optimizer
	switch oc.Type {
	case "gd", "sgd":
		return optim.NewGradientDescent(oc.LearningRate), nil
	case "adam", "":
		a := optim.NewAdam(oc.LearningRate)
		if oc.Beta1 > 0 {
			a.Beta1 = oc.Beta1
		}
		if oc.Beta2 > 0 {
			a.Beta2 = oc.Beta2
		}
		if oc.Epsilon > 0 {
			a.Epsilon = oc.Epsilon
		}
		return a, nil
	case "newton":
		n := optim.NewNewton(oc.LearningRate)
		if oc.Damping > 0 {
			n.Damping = oc.Damping
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOptimizer, oc.Type)
	}
}
