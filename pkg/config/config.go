package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging"`
	Provider     string             `mapstructure:"provider"`
	Ollama       OllamaConfig       `mapstructure:"ollama"`
	Sandbox      SandboxConfig      `mapstructure:"sandbox"`
	Parser       ParserConfig       `mapstructure:"parser"`
	Executor     ExecutorConfig     `mapstructure:"executor"`
	Materializer MaterializerConfig `mapstructure:"materializer"`
	Feedback     FeedbackConfig     `mapstructure:"feedback"`
	Session      SessionConfig      `mapstructure:"session"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

// OllamaConfig holds Ollama-specific configuration
type OllamaConfig struct {
	URL          string        `mapstructure:"url"`
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"-"`
	TimeoutStr   string        `mapstructure:"timeout"`
}

// SandboxConfig describes where commands run and files land
type SandboxConfig struct {
	Root       string `mapstructure:"root"`
	ProjectDir string `mapstructure:"project_dir"`
	Shell      string `mapstructure:"shell"`
	Template   string `mapstructure:"template"`
}

// ParserConfig holds chunk parser settings
type ParserConfig struct {
	CacheSize        int `mapstructure:"cache_size"`
	PartialMinLength int `mapstructure:"partial_min_length"`
}

// TimeoutsConfig holds per-class command timeouts
type TimeoutsConfig struct {
	Default    time.Duration `mapstructure:"-"`
	Build      time.Duration `mapstructure:"-"`
	Install    time.Duration `mapstructure:"-"`
	DefaultStr string        `mapstructure:"default"`
	BuildStr   string        `mapstructure:"build"`
	InstallStr string        `mapstructure:"install"`
}

// CacheConfig holds the read-only command result cache settings
type CacheConfig struct {
	TTL     time.Duration `mapstructure:"-"`
	TTLStr  string        `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

// ExecutorConfig holds command execution policy
type ExecutorConfig struct {
	Timeouts        TimeoutsConfig `mapstructure:"timeouts"`
	Cache           CacheConfig    `mapstructure:"cache"`
	KillOnTimeout   bool           `mapstructure:"kill_on_timeout"`
	OutputGrace     time.Duration  `mapstructure:"-"`
	OutputGraceStr  string         `mapstructure:"output_grace"`
	Allow           []string       `mapstructure:"allow"`
	Deny            []string       `mapstructure:"deny"`
	LongRunning     []string       `mapstructure:"long_running"`
	InstallPatterns []string       `mapstructure:"install_patterns"`
	BuildPatterns   []string       `mapstructure:"build_patterns"`
	Cacheable       []string       `mapstructure:"cacheable"`
}

// MaterializerConfig holds file placement rules
type MaterializerConfig struct {
	SourceDir    string   `mapstructure:"source_dir"`
	RootFiles    []string `mapstructure:"root_files"`
	EntryFiles   []string `mapstructure:"entry_files"`
	KeptPrefixes []string `mapstructure:"kept_prefixes"`
}

// FeedbackConfig holds error feedback loop settings
type FeedbackConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Debounce    time.Duration `mapstructure:"-"`
	DebounceStr string        `mapstructure:"debounce"`
}

// SessionConfig holds streaming turn settings
type SessionConfig struct {
	ThrottleInterval    time.Duration `mapstructure:"-"`
	ThrottleIntervalStr string        `mapstructure:"throttle_interval"`
	ThrottleBytes       int           `mapstructure:"throttle_bytes"`
}

var cfg *Config

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// IsLoaded reports whether Load has completed successfully
func IsLoaded() bool {
	return cfg != nil
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./.stak")
		viper.AddConfigPath(filepath.Join(xdgConfigHome, ".stak"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.AutomaticEnv()
	bindEnvironmentVariables()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			if _, statErr := os.Stat(cfgFile); statErr == nil {
				return nil, fmt.Errorf("failed to read config %s: %w", cfgFile, err)
			}
		}
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := processDurations(loaded); err != nil {
		return nil, fmt.Errorf("failed to process durations: %w", err)
	}

	cfg = loaded
	return cfg, nil
}

// Set replaces the global config. Intended for tests and embedding.
func Set(c *Config) {
	cfg = c
}

// Default returns a config populated only from defaults, without touching the global instance.
func Default() *Config {
	v := viper.New()
	applyDefaults(v)
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		panic(fmt.Sprintf("default config does not decode: %v", err))
	}
	if err := processDurations(c); err != nil {
		panic(fmt.Sprintf("default durations invalid: %v", err))
	}
	return c
}

// setDefaults sets all default configuration values
func setDefaults() {
	applyDefaults(viper.GetViper())
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("provider", "ollama")

	v.SetDefault("logging.log_file", "./.stak/system.log")
	v.SetDefault("logging.preserve", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("ollama.url", "http://localhost:11434")
	v.SetDefault("ollama.model", "qwen2.5-coder:latest")
	v.SetDefault("ollama.system_prompt", "")
	v.SetDefault("ollama.timeout", "90s")

	v.SetDefault("sandbox.root", "./.stak/sandbox")
	v.SetDefault("sandbox.project_dir", "my-app")
	v.SetDefault("sandbox.shell", "sh")
	v.SetDefault("sandbox.template", "react-ts")

	v.SetDefault("parser.cache_size", 50)
	v.SetDefault("parser.partial_min_length", 40)

	v.SetDefault("executor.timeouts.default", "15s")
	v.SetDefault("executor.timeouts.build", "45s")
	v.SetDefault("executor.timeouts.install", "60s")
	v.SetDefault("executor.cache.ttl", "15s")
	v.SetDefault("executor.cache.max_size", 20)
	v.SetDefault("executor.kill_on_timeout", true)
	v.SetDefault("executor.output_grace", "2s")
	v.SetDefault("executor.allow", DefaultAllow)
	v.SetDefault("executor.deny", DefaultDeny)
	v.SetDefault("executor.long_running", DefaultLongRunning)
	v.SetDefault("executor.install_patterns", DefaultInstallPatterns)
	v.SetDefault("executor.build_patterns", DefaultBuildPatterns)
	v.SetDefault("executor.cacheable", DefaultCacheable)

	v.SetDefault("materializer.source_dir", "src")
	v.SetDefault("materializer.root_files", DefaultRootFiles)
	v.SetDefault("materializer.entry_files", DefaultEntryFiles)
	v.SetDefault("materializer.kept_prefixes", DefaultKeptPrefixes)

	v.SetDefault("feedback.enabled", true)
	v.SetDefault("feedback.debounce", "1s")

	v.SetDefault("session.throttle_interval", "100ms")
	v.SetDefault("session.throttle_bytes", 256)
}

// bindEnvironmentVariables binds STAK_ prefixed environment variables to Viper keys
func bindEnvironmentVariables() {
	viper.BindEnv("logging.log_file", "STAK_LOG_FILE")
	viper.BindEnv("logging.level", "STAK_LOG_LEVEL")
	viper.BindEnv("logging.preserve", "STAK_LOG_PRESERVE")
	viper.BindEnv("ollama.url", "STAK_OLLAMA_URL", "OLLAMA_HOST")
	viper.BindEnv("ollama.model", "STAK_OLLAMA_MODEL")
	viper.BindEnv("ollama.system_prompt", "STAK_OLLAMA_SYSTEM_PROMPT")
	viper.BindEnv("ollama.timeout", "STAK_OLLAMA_TIMEOUT")
	viper.BindEnv("sandbox.root", "STAK_SANDBOX_ROOT")
	viper.BindEnv("sandbox.project_dir", "STAK_PROJECT_DIR")
	viper.BindEnv("executor.timeouts.default", "STAK_TIMEOUT_DEFAULT")
	viper.BindEnv("executor.timeouts.build", "STAK_TIMEOUT_BUILD")
	viper.BindEnv("executor.timeouts.install", "STAK_TIMEOUT_INSTALL")
	viper.BindEnv("feedback.enabled", "STAK_FEEDBACK_ENABLED")
	viper.BindEnv("feedback.debounce", "STAK_FEEDBACK_DEBOUNCE")
}

type durationField struct {
	key      string
	raw      string
	dst      *time.Duration
	fallback time.Duration
}

// processDurations converts string durations to time.Duration
func processDurations(c *Config) error {
	fields := []durationField{
		{"ollama.timeout", c.Ollama.TimeoutStr, &c.Ollama.Timeout, 90 * time.Second},
		{"executor.timeouts.default", c.Executor.Timeouts.DefaultStr, &c.Executor.Timeouts.Default, 15 * time.Second},
		{"executor.timeouts.build", c.Executor.Timeouts.BuildStr, &c.Executor.Timeouts.Build, 45 * time.Second},
		{"executor.timeouts.install", c.Executor.Timeouts.InstallStr, &c.Executor.Timeouts.Install, 60 * time.Second},
		{"executor.cache.ttl", c.Executor.Cache.TTLStr, &c.Executor.Cache.TTL, 15 * time.Second},
		{"executor.output_grace", c.Executor.OutputGraceStr, &c.Executor.OutputGrace, 2 * time.Second},
		{"feedback.debounce", c.Feedback.DebounceStr, &c.Feedback.Debounce, time.Second},
		{"session.throttle_interval", c.Session.ThrottleIntervalStr, &c.Session.ThrottleInterval, 100 * time.Millisecond},
	}

	for _, f := range fields {
		if f.raw == "" {
			if *f.dst == 0 {
				*f.dst = f.fallback
			}
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", f.key, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: negative duration %v", f.key, d)
		}
		*f.dst = d
	}

	return nil
}

// GetConfigFileUsed returns the path to the config file being used
func GetConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// ProjectPath returns the sandbox-relative project directory
func (c *Config) ProjectPath() string {
	if c.Sandbox.ProjectDir == "" {
		return "my-app"
	}
	return c.Sandbox.ProjectDir
}
