package logger

import "path/filepath"

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel  string                  `yaml:"default_level" mapstructure:"default_level" json:"default_level"` // default log level for all modules
	Timezone      string                  `yaml:"timezone" mapstructure:"timezone" json:"timezone"`                // "Local", "UTC" or an IANA name
	Console       *ConsoleOutput          `yaml:"console" mapstructure:"console" json:"console"`
	FileOutput    *FileOutput             `yaml:"file_output" mapstructure:"file_output" json:"file_output"`
	ModuleOutputs map[string]ModuleOutput `yaml:"modules" mapstructure:"modules" json:"modules"`                   // per-module output routing
	ModuleLevels  map[string]string       `yaml:"module_levels" mapstructure:"module_levels" json:"module_levels"` // per-module log levels
}

// ConsoleOutput configures human-readable console output.
// Timestamps are omitted; journald or the container runtime adds them.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Level   string `yaml:"level" mapstructure:"level" json:"level"`
}

// FileOutput configures the main JSON log file
type FileOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Path    string `yaml:"path" mapstructure:"path" json:"path"`
	Level   string `yaml:"level" mapstructure:"level" json:"level"`
}

// ModuleOutput routes a module to a dedicated JSON log file
type ModuleOutput struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	FilePath    string `yaml:"file_path" mapstructure:"file_path" json:"file_path"`
	Level       string `yaml:"level" mapstructure:"level" json:"level"`                      // overrides module_levels for this module
	ConsoleAlso bool   `yaml:"console_also" mapstructure:"console_also" json:"console_also"` // also log to console
}

// Defaults, kept in sync with conf/defaults.go.
const (
	DefaultLogLevel       = "info"
	DefaultLogPath        = "logs/drawee.log"
	DefaultAccessLogPath  = "logs/access.log"
	DefaultConsoleEnabled = true
	DefaultFileEnabled    = true

	// LogFilePermissions restricts log files to the owner
	LogFilePermissions = 0o600
)

// applyConfigDefaults fills nil sections so older configs keep logging.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: DefaultConsoleEnabled,
			Level:   DefaultLogLevel,
		}
	}

	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled: DefaultFileEnabled,
			Path:    DefaultLogPath,
			Level:   DefaultLogLevel,
		}
	}

	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)
	}

	// HTTP access logs go next to the main log unless configured otherwise
	if _, exists := cfg.ModuleOutputs["access"]; !exists && cfg.FileOutput.Enabled {
		cfg.ModuleOutputs["access"] = ModuleOutput{
			Enabled:  true,
			FilePath: filepath.Join(filepath.Dir(cfg.FileOutput.Path), filepath.Base(DefaultAccessLogPath)),
			Level:    DefaultLogLevel,
		}
	}
}
