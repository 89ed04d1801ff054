package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"goregress/domain/core"
	"goregress/domain/regression"
	apperrors "goregress/internal/errors"
)

// Config is the parsed config.yaml
type Config struct {
	General Settings                    `yaml:"general"`
	Metrics map[string]SettingsOverride `yaml:"metrics"`
	Output  OutputConfig                `yaml:"output"`
	Logging LoggingConfig               `yaml:"logging"`
	Server  ServerConfig                `yaml:"server"`

	// Hash of the raw file, recorded in run manifests
	Hash core.Hash `yaml:"-"`
}

// Settings are the general regression options shared by every metric
type Settings struct {
	OutputDir             string        `yaml:"output_dir"`
	Model                 string        `yaml:"model"`
	Multi                 YesNo         `yaml:"multi"`
	PredictorsFile        string        `yaml:"predictors_file"`
	SampleColumn          string        `yaml:"sample_column"`
	Predictors            []string      `yaml:"predictors"`
	PredictorsIntercept0  []string      `yaml:"predictors_intercept_0"`
	PredictorRandomEffect string        `yaml:"predictor_random_effect"`
	PredictorsMultiForce  [][]string    `yaml:"predictors_multi_force"`
	CorrectPvals          YesNo         `yaml:"correct_pvals"`
	SignificanceThreshold float64       `yaml:"significance_threshold"`
	Workers               int           `yaml:"workers"`
	FitTimeout            time.Duration `yaml:"fit_timeout"`
}

// SettingsOverride is one metric section. Nil fields inherit from general.
type SettingsOverride struct {
	MetricName string `yaml:"metric_name"`
	File       string `yaml:"file"`

	OutputDir             *string        `yaml:"output_dir"`
	Model                 *string        `yaml:"model"`
	Multi                 *YesNo         `yaml:"multi"`
	PredictorsFile        *string        `yaml:"predictors_file"`
	SampleColumn          *string        `yaml:"sample_column"`
	Predictors            []string       `yaml:"predictors"`
	PredictorsIntercept0  []string       `yaml:"predictors_intercept_0"`
	PredictorRandomEffect *string        `yaml:"predictor_random_effect"`
	PredictorsMultiForce  [][]string     `yaml:"predictors_multi_force"`
	CorrectPvals          *YesNo         `yaml:"correct_pvals"`
	SignificanceThreshold *float64       `yaml:"significance_threshold"`
	Workers               *int           `yaml:"workers"`
	FitTimeout            *time.Duration `yaml:"fit_timeout"`
}

// MetricSettings is the effective configuration of one metric run
type MetricSettings struct {
	Key  string // section key, e.g. metric_1
	Name string
	File string
	Settings
}

// OutputConfig controls where results go besides the stage directories
type OutputConfig struct {
	Format      string         `yaml:"format"` // tsv, tsv.gz or xlsx
	MetricsFile bool           `yaml:"metrics_file"`
	Report      bool           `yaml:"report"`
	Database    DatabaseConfig `yaml:"database"`
	S3          S3Config       `yaml:"s3"`
}

// DatabaseConfig selects the optional results database
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres or sqlite, empty disables
	URL    string `yaml:"url"`
}

// S3Config selects the optional artifact bucket
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// ServerConfig holds the results API settings
type ServerConfig struct {
	Address string `yaml:"address"`
	GinMode string `yaml:"gin_mode"`
}

// YesNo accepts yes/no as well as YAML booleans
type YesNo bool

func (b *YesNo) UnmarshalYAML(node *yaml.Node) error {
	switch strings.ToLower(strings.TrimSpace(node.Value)) {
	case "yes", "y", "true", "1", "on":
		*b = true
	case "no", "n", "false", "0", "off", "":
		*b = false
	default:
		return fmt.Errorf("line %d: %q is not yes or no", node.Line, node.Value)
	}
	return nil
}

func (b YesNo) MarshalYAML() (interface{}, error) {
	if b {
		return "yes", nil
	}
	return "no", nil
}

// Load reads a YAML config file and applies environment overrides
func Load(path string) (*Config, error) {
	if path == "" {
		path = getEnvOrDefault("REGRESS_CONFIG", "config.yaml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.ConfigInvalid(fmt.Sprintf("config file %s not found", path))
		}
		return nil, apperrors.IOError(path, err)
	}
	return Parse(data)
}

// Parse decodes config bytes over the defaults and applies environment overrides
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperrors.Wrap(core.NewConfigError("yaml", err.Error()), "parse config")
	}
	applyEnvOverrides(&cfg)
	cfg.Hash = core.NewHash(data)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		General: Settings{
			OutputDir:             ".",
			Model:                 string(regression.ModelLinear),
			SignificanceThreshold: 0.05,
			Workers:               4,
			FitTimeout:            30 * time.Second,
		},
		Output: OutputConfig{
			Format:      "tsv",
			MetricsFile: true,
			Report:      true,
		},
		Logging: LoggingConfig{Level: "info", Dir: "log"},
		Server:  ServerConfig{Address: ":8080", GinMode: "release"},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Logging.Level = getEnvOrDefault("REGRESS_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.JSON = getEnvBoolOrDefault("REGRESS_LOG_JSON", cfg.Logging.JSON)
	cfg.General.OutputDir = getEnvOrDefault("REGRESS_OUTPUT_DIR", cfg.General.OutputDir)
	cfg.General.Workers = getEnvIntOrDefault("REGRESS_WORKERS", cfg.General.Workers)
	cfg.General.FitTimeout = getEnvDurationOrDefault("REGRESS_FIT_TIMEOUT", cfg.General.FitTimeout)
	cfg.Output.Format = getEnvOrDefault("REGRESS_OUTPUT_FORMAT", cfg.Output.Format)
	cfg.Output.Database.Driver = getEnvOrDefault("REGRESS_DATABASE_DRIVER", cfg.Output.Database.Driver)
	cfg.Output.Database.URL = getEnvOrDefault("REGRESS_DATABASE_URL", cfg.Output.Database.URL)
	cfg.Output.S3.Bucket = getEnvOrDefault("REGRESS_S3_BUCKET", cfg.Output.S3.Bucket)
	cfg.Output.S3.Region = getEnvOrDefault("REGRESS_S3_REGION", cfg.Output.S3.Region)
	cfg.Output.S3.Endpoint = getEnvOrDefault("REGRESS_S3_ENDPOINT", cfg.Output.S3.Endpoint)
	cfg.Server.Address = getEnvOrDefault("REGRESS_SERVER_ADDRESS", cfg.Server.Address)
	cfg.Server.GinMode = getEnvOrDefault("GIN_MODE", cfg.Server.GinMode)
}

// MergeSettings overlays a metric section on the general settings.
// Neither argument is modified.
func MergeSettings(general Settings, o SettingsOverride) Settings {
	s := general
	s.Predictors = append([]string(nil), general.Predictors...)
	s.PredictorsIntercept0 = append([]string(nil), general.PredictorsIntercept0...)
	s.PredictorsMultiForce = append([][]string(nil), general.PredictorsMultiForce...)

	if o.OutputDir != nil {
		s.OutputDir = *o.OutputDir
	}
	if o.Model != nil {
		s.Model = *o.Model
	}
	if o.Multi != nil {
		s.Multi = *o.Multi
	}
	if o.PredictorsFile != nil {
		s.PredictorsFile = *o.PredictorsFile
	}
	if o.SampleColumn != nil {
		s.SampleColumn = *o.SampleColumn
	}
	if o.Predictors != nil {
		s.Predictors = append([]string(nil), o.Predictors...)
	}
	if o.PredictorsIntercept0 != nil {
		s.PredictorsIntercept0 = append([]string(nil), o.PredictorsIntercept0...)
	}
	if o.PredictorRandomEffect != nil {
		s.PredictorRandomEffect = *o.PredictorRandomEffect
	}
	if o.PredictorsMultiForce != nil {
		s.PredictorsMultiForce = append([][]string(nil), o.PredictorsMultiForce...)
	}
	if o.CorrectPvals != nil {
		s.CorrectPvals = *o.CorrectPvals
	}
	if o.SignificanceThreshold != nil {
		s.SignificanceThreshold = *o.SignificanceThreshold
	}
	if o.Workers != nil {
		s.Workers = *o.Workers
	}
	if o.FitTimeout != nil {
		s.FitTimeout = *o.FitTimeout
	}
	return s
}

// MetricRuns merges every metric section, in section-key order, and validates it
func (c *Config) MetricRuns() ([]MetricSettings, error) {
	if len(c.Metrics) == 0 {
		return nil, core.NewConfigError("metrics", "no metric sections")
	}
	keys := make([]string, 0, len(c.Metrics))
	for k := range c.Metrics {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return metricKeyLess(keys[i], keys[j]) })

	runs := make([]MetricSettings, 0, len(keys))
	for _, key := range keys {
		o := c.Metrics[key]
		ms := MetricSettings{Key: key, Name: o.MetricName, File: o.File, Settings: MergeSettings(c.General, o)}
		if err := ms.Validate(); err != nil {
			return nil, apperrors.Wrapf(err, "metrics.%s", key)
		}
		runs = append(runs, ms)
	}
	return runs, nil
}

// metricKeyLess orders metric_2 before metric_10
func metricKeyLess(a, b string) bool {
	na, errA := strconv.Atoi(strings.TrimPrefix(a, "metric_"))
	nb, errB := strconv.Atoi(strings.TrimPrefix(b, "metric_"))
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

// Validate checks one metric's effective settings
func (m MetricSettings) Validate() error {
	if m.Name == "" {
		return core.NewConfigError("metric_name", "required")
	}
	if m.File == "" {
		return core.NewConfigError("file", "required")
	}
	if m.PredictorsFile == "" {
		return core.NewConfigError("predictors_file", "required")
	}
	if m.SampleColumn == "" {
		return core.NewConfigError("sample_column", "required")
	}
	kind, err := regression.ParseModelKind(m.Model)
	if err != nil {
		return err
	}
	if kind == regression.ModelLinearME && m.PredictorRandomEffect == "" {
		return core.NewConfigError("predictor_random_effect", "required by model linear_me")
	}
	if m.SignificanceThreshold <= 0 || m.SignificanceThreshold > 1 {
		return core.NewConfigError("significance_threshold", fmt.Sprintf("%v not in (0, 1]", m.SignificanceThreshold))
	}
	if m.Workers < 1 {
		return core.NewConfigError("workers", "must be at least 1")
	}
	for _, rule := range m.PredictorsMultiForce {
		if len(rule) < 2 {
			return core.NewConfigError("predictors_multi_force", fmt.Sprintf("rule %v needs at least two predictors", rule))
		}
	}
	return nil
}

// ModelKind returns the validated model kind
func (m MetricSettings) ModelKind() regression.ModelKind {
	kind, _ := regression.ParseModelKind(m.Model)
	return kind
}

// ForcedRules converts predictors_multi_force into rules
func (m MetricSettings) ForcedRules() []regression.ForcedRule {
	rules := make([]regression.ForcedRule, len(m.PredictorsMultiForce))
	for i, r := range m.PredictorsMultiForce {
		rules[i] = regression.ForcedRule(r)
	}
	return rules
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
