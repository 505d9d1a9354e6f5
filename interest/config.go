package interest

import (
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ErrInvalidConfig is returned for environment configurations that cannot be simulated
var ErrInvalidConfig = errors.New("invalid environment config")

// Config of the interest evolution environment.
// The mapstructure keys are the option names of the flat env_config mapping.
type Config struct {
	NumCandidates     int   `mapstructure:"num_candidates" yaml:"num_candidates" json:"num_candidates"`
	SlateSize         int   `mapstructure:"slate_size" yaml:"slate_size" json:"slate_size"`
	ResampleDocuments bool  `mapstructure:"resample_documents" yaml:"resample_documents" json:"resample_documents"`
	Seed              int64 `mapstructure:"seed" yaml:"seed" json:"seed"`

	NumTopics      int     `mapstructure:"num_topics" yaml:"num_topics" json:"num_topics"`
	TimeBudget     float64 `mapstructure:"time_budget" yaml:"time_budget" json:"time_budget"`
	StepPenalty    float64 `mapstructure:"step_penalty" yaml:"step_penalty" json:"step_penalty"`
	NoClickMass    float64 `mapstructure:"no_click_mass" yaml:"no_click_mass" json:"no_click_mass"`
	MinNormalizer  float64 `mapstructure:"min_normalizer" yaml:"min_normalizer" json:"min_normalizer"`
	DocumentLength float64 `mapstructure:"document_length" yaml:"document_length" json:"document_length"`
	QualityStddev  float64 `mapstructure:"quality_stddev" yaml:"quality_stddev" json:"quality_stddev"`

	UserQualityFactor     float64 `mapstructure:"user_quality_factor" yaml:"user_quality_factor" json:"user_quality_factor"`
	DocumentQualityFactor float64 `mapstructure:"document_quality_factor" yaml:"document_quality_factor" json:"document_quality_factor"`
	BudgetUpdateRate      float64 `mapstructure:"budget_update_rate" yaml:"budget_update_rate" json:"budget_update_rate"`
	InterestUpdateRate    float64 `mapstructure:"interest_update_rate" yaml:"interest_update_rate" json:"interest_update_rate"`
}

// DefaultConfig returns the configuration used when an option is not set
func DefaultConfig() Config {
	return Config{
		NumCandidates:     10,
		SlateSize:         2,
		ResampleDocuments: true,
		Seed:              0,

		NumTopics:      20,
		TimeBudget:     60,
		StepPenalty:    0.5,
		NoClickMass:    1.0,
		MinNormalizer:  -1.0,
		DocumentLength: 4.0,
		QualityStddev:  0.1,

		UserQualityFactor:     0.0,
		DocumentQualityFactor: 1.0,
		BudgetUpdateRate:      0.25,
		InterestUpdateRate:    0.1,
	}
}

// ConfigFromMap decodes a flat option mapping on top of the defaults.
// Unknown options are rejected.
func ConfigFromMap(options map[string]interface{}) (Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return cfg, err
	}
	if err := decoder.Decode(options); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.NumCandidates < 1:
		return fmt.Errorf("%w: num_candidates must be positive, got %d", ErrInvalidConfig, c.NumCandidates)
	case c.SlateSize < 1:
		return fmt.Errorf("%w: slate_size must be positive, got %d", ErrInvalidConfig, c.SlateSize)
	case c.SlateSize > c.NumCandidates:
		return fmt.Errorf("%w: slate_size %d exceeds num_candidates %d", ErrInvalidConfig, c.SlateSize, c.NumCandidates)
	case c.NumTopics < 1:
		return fmt.Errorf("%w: num_topics must be positive, got %d", ErrInvalidConfig, c.NumTopics)
	case c.TimeBudget <= 0:
		return fmt.Errorf("%w: time_budget must be positive, got %v", ErrInvalidConfig, c.TimeBudget)
	case c.DocumentLength <= 0:
		return fmt.Errorf("%w: document_length must be positive, got %v", ErrInvalidConfig, c.DocumentLength)
	case c.NoClickMass < 0:
		return fmt.Errorf("%w: no_click_mass must not be negative, got %v", ErrInvalidConfig, c.NoClickMass)
	case c.QualityStddev < 0:
		return fmt.Errorf("%w: quality_stddev must not be negative, got %v", ErrInvalidConfig, c.QualityStddev)
	}
	return nil
}
