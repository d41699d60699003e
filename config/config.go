package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CTITOOLKIT_LOG_LEVEL.
const EnvPrefix = "CTITOOLKIT"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// DataPaths holds data directory and file path configuration
type DataPaths struct {
	// DataDir is the base data directory (CTITOOLKIT_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// LedgerPath is the SQLite ledger file (CTITOOLKIT_LEDGER_PATH, default: ${DataDir}/ctitoolkit.db)
	LedgerPath string `mapstructure:"ledger_path"`
	// XMLOutputDir receives a copy of every parsed package when set
	XMLOutputDir string `mapstructure:"xml_output_dir"`
}

// TextConfig configures the delimited text output
type TextConfig struct {
	Separator     string `mapstructure:"separator"`
	IncludeHeader bool   `mapstructure:"include_header"`
	HeaderPrefix  string `mapstructure:"header_prefix"`
	EscapeQuotes  bool   `mapstructure:"escape_quotes"`
}

// SnortConfig configures the Snort rule output
type SnortConfig struct {
	InitialSID    int    `mapstructure:"initial_sid" validate:"min=1"`
	RuleRevision  int    `mapstructure:"rule_revision" validate:"min=1"`
	RuleAction    string `mapstructure:"rule_action" validate:"oneof=alert log pass activate dynamic drop reject sdrop"`
	Separator     string `mapstructure:"separator"`
	IncludeHeader bool   `mapstructure:"include_header"`
	HeaderPrefix  string `mapstructure:"header_prefix"`
}

// PackageConfig supplies values for package header fields left empty
type PackageConfig struct {
	DefaultTitle       string `mapstructure:"default_title"`
	DefaultDescription string `mapstructure:"default_description"`
	DefaultTLP         string `mapstructure:"default_tlp" validate:"omitempty,oneof=WHITE GREEN AMBER RED"`
}

// Config holds all configuration for ctitoolkit
type Config struct {
	Log struct {
		Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
		Format string `mapstructure:"format" validate:"oneof=console json"`
	} `mapstructure:"log"`

	Text    TextConfig    `mapstructure:"text"`
	Snort   SnortConfig   `mapstructure:"snort"`
	Package PackageConfig `mapstructure:"package"`

	FieldMappings struct {
		// YAMLPath overrides the built-in object field table when set
		YAMLPath string `mapstructure:"yaml_path"`
	} `mapstructure:"field_mappings"`

	Ledger struct {
		Enabled   bool `mapstructure:"enabled"`
		SkipSeen  bool `mapstructure:"skip_seen"`
		CacheSize int  `mapstructure:"cache_size" validate:"min=1"`
	} `mapstructure:"ledger"`

	Metrics struct {
		Textfile string `mapstructure:"textfile"`
	} `mapstructure:"metrics"`

	DataPaths DataPaths `mapstructure:"data_paths"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("text.separator", "|")
	v.SetDefault("text.include_header", true)
	v.SetDefault("text.header_prefix", "#")
	v.SetDefault("text.escape_quotes", false)

	v.SetDefault("snort.initial_sid", 5500000)
	v.SetDefault("snort.rule_revision", 1)
	v.SetDefault("snort.rule_action", "alert")
	v.SetDefault("snort.separator", "\t")
	v.SetDefault("snort.include_header", false)
	v.SetDefault("snort.header_prefix", "#")

	v.SetDefault("package.default_title", "")
	v.SetDefault("package.default_description", "")
	v.SetDefault("package.default_tlp", "AMBER")

	v.SetDefault("field_mappings.yaml_path", "")

	v.SetDefault("ledger.enabled", false)
	v.SetDefault("ledger.skip_seen", false)
	v.SetDefault("ledger.cache_size", 1024)

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("data_paths.data_dir", "./data")
	v.SetDefault("data_paths.ledger_path", "") // Empty = derive from data_dir
	v.SetDefault("data_paths.xml_output_dir", "")
}

func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Shorter names for the path settings
	_ = v.BindEnv("data_paths.data_dir", EnvPrefix+"_DATA_DIR")
	_ = v.BindEnv("data_paths.ledger_path", EnvPrefix+"_LEDGER_PATH")
	_ = v.BindEnv("data_paths.xml_output_dir", EnvPrefix+"_XML_OUTPUT_DIR")
}

// LoadConfig reads config.yaml from the working directory or ./config, or
// the given file when configFile is set, then applies CTITOOLKIT_*
// environment overrides. A missing config.yaml is not an error; a missing
// explicit file is.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("unable to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	config.ResolveDataPaths()
	return &config, nil
}

var validate = validator.New()

// Validate checks the configuration for correctness
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (got %v)", fieldKey(fe.Namespace()), tagDescription(fe), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

func tagDescription(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// fieldKey turns "Config.Snort.RuleAction" into "Snort.RuleAction".
func fieldKey(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// ResolveDataPaths derives unset paths from the data directory
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.LedgerPath == "" {
		c.DataPaths.LedgerPath = filepath.Join(dataDir, "ctitoolkit.db")
	} else if !filepath.IsAbs(c.DataPaths.LedgerPath) {
		// Relative to the current directory, not data_dir
		c.DataPaths.LedgerPath = filepath.Clean(c.DataPaths.LedgerPath)
	}

	if c.DataPaths.XMLOutputDir != "" {
		c.DataPaths.XMLOutputDir = filepath.Clean(c.DataPaths.XMLOutputDir)
	}

	c.DataPaths.DataDir = dataDir
}

// GetLedgerPath returns the resolved ledger database path
func (c *Config) GetLedgerPath() string {
	if c.DataPaths.LedgerPath == "" {
		c.ResolveDataPaths()
	}
	return c.DataPaths.LedgerPath
}
