// Package config loads the run configuration: defaults from struct tags,
// then an optional YAML file, then LCR_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"github.com/banshee-data/lightcurve.report/internal/lightcurve"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/gp"
	"github.com/banshee-data/lightcurve.report/internal/lightcurve/pipeline"
	"github.com/banshee-data/lightcurve.report/internal/monitoring"
)

// DefaultConfigPath is the canonical defaults file shipped with the repo.
const DefaultConfigPath = "config/lightcurve.defaults.yaml"

// Config is the root configuration.
type Config struct {
	Filters    []string `koanf:"filters" validate:"required,min=1,dive,required"`
	QualityCut float64  `koanf:"quality_cut"`
	MinEpochs  int      `koanf:"min_epochs" default:"3" validate:"gte=1"`
	EpochCut   Window   `koanf:"epoch_cut"`
	EpochBin   float64  `koanf:"epoch_bin" default:"1" validate:"gt=0"`
	FitMode    string   `koanf:"fit_mode" default:"optimize" validate:"oneof=optimize mcmc"`
	NSamples   int      `koanf:"n_samples" validate:"gte=0"`
	Seed       uint64   `koanf:"seed" default:"1"`

	Grid GridConfig `koanf:"grid"`
	MCMC MCMCConfig `koanf:"mcmc"`

	RedshiftFlag string `koanf:"redshift_flag" default:"REDSHIFT_FINAL:" validate:"required"`
	TypeFlag     string `koanf:"type_flag" default:"SIM_NON1a:" validate:"required"`

	Data    DataConfig           `koanf:"data"`
	Batch   BatchConfig          `koanf:"batch"`
	Storage StorageConfig        `koanf:"storage"`
	Redis   RedisConfig          `koanf:"redis"`
	Kafka   KafkaConfig          `koanf:"kafka"`
	Server  ServerConfig         `koanf:"server"`
	Log     monitoring.LogConfig `koanf:"log"`
}

// Window is the peak-relative epoch cut.
type Window struct {
	Start float64 `koanf:"start" default:"-10"`
	End   float64 `koanf:"end" default:"10"`
}

type GridConfig struct {
	Step        float64 `koanf:"step" default:"0.2" validate:"gt=0"`
	Extrapolate bool    `koanf:"extrapolate"`
	Margin      float64 `koanf:"margin" default:"100" validate:"gte=0"`
}

type MCMCConfig struct {
	Walkers int    `koanf:"walkers" default:"16" validate:"gte=4"`
	Samples int    `koanf:"samples" default:"200" validate:"gt=0"`
	Burn    int    `koanf:"burn" default:"100" validate:"gte=0"`
	Thin    int    `koanf:"thin" default:"2" validate:"gt=0"`
	Seed    uint64 `koanf:"seed" default:"1"`
}

// DataConfig locates light-curve files and outputs.
type DataConfig struct {
	Dir       string `koanf:"dir"`
	List      string `koanf:"snlist"`
	MatrixOut string `koanf:"matrix_out"`
	PlotDir   string `koanf:"plot_dir"`
}

type BatchConfig struct {
	Workers        int     `koanf:"workers" validate:"gte=0"`
	CrossValTrials int     `koanf:"cross_val_trials" default:"10" validate:"gte=1"`
	PCAComponents  []int   `koanf:"pca_components" validate:"min=1,dive,gt=0"`
	TestFraction   float64 `koanf:"test_fraction" default:"0.5" validate:"gt=0,lt=1"`
	// PositiveType, when set, collapses types to it versus the rest before
	// cross validation.
	PositiveType string `koanf:"positive_type"`
}

type StorageConfig struct {
	Path string `koanf:"path" default:"lightcurve.db"`
}

// RedisConfig enables the shared fit cache when Addr is set.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db" validate:"gte=0"`
	TTL      time.Duration `koanf:"ttl" default:"168h"`
}

// KafkaConfig enables feature-row publication when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic" default:"lightcurve.features"`
}

type ServerConfig struct {
	Addr string `koanf:"addr" default:":8090"`
}

var validate = validator.New()

// New returns a Config with every default applied.
func New() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.fillListDefaults()
	return cfg
}

// fillListDefaults sets slice defaults. They are kept out of struct tags
// because decoding a shorter list over a pre-filled slice would merge them.
func (c *Config) fillListDefaults() {
	if len(c.Batch.PCAComponents) == 0 {
		c.Batch.PCAComponents = []int{2, 3, 5}
	}
}

// Validate checks field constraints and cross-field rules. Every failure is
// a *lightcurve.ConfigurationError.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &lightcurve.ConfigurationError{Field: fieldName(fe), Problem: fmt.Sprintf("failed %s %s", fe.Tag(), fe.Param())}
		}
		return &lightcurve.ConfigurationError{Field: "config", Problem: err.Error()}
	}
	if c.MCMC.Burn >= c.MCMC.Samples {
		return &lightcurve.ConfigurationError{Field: "mcmc.burn", Problem: fmt.Sprintf("burn %d must be below samples %d", c.MCMC.Burn, c.MCMC.Samples)}
	}
	p, err := c.Pipeline()
	if err != nil {
		return err
	}
	return p.Validate()
}

// fieldName turns Config.MCMC.Burn into mcmc.burn.
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

// Pipeline returns the per-object configuration bundle.
func (c *Config) Pipeline() (pipeline.Config, error) {
	mode, err := gp.ParseMode(c.FitMode)
	if err != nil {
		return pipeline.Config{}, &lightcurve.ConfigurationError{Field: "fit_mode", Problem: err.Error()}
	}
	return pipeline.Config{
		Filters:          append([]string(nil), c.Filters...),
		QualityThreshold: c.QualityCut,
		MinEpochs:        c.MinEpochs,
		Window:           lightcurve.Window{Start: c.EpochCut.Start, End: c.EpochCut.End},
		BinWidth:         c.EpochBin,
		Mode:             mode,
		Grid:             gp.GridSpec{Step: c.Grid.Step, Extrapolate: c.Grid.Extrapolate, Margin: c.Grid.Margin},
		MCMC: gp.MCMCSettings{
			Walkers: c.MCMC.Walkers,
			Samples: c.MCMC.Samples,
			Burn:    c.MCMC.Burn,
			Thin:    c.MCMC.Thin,
			Seed:    c.MCMC.Seed,
		},
		Draws: c.NSamples,
		Seed:  c.Seed,
	}, nil
}
