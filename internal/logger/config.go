package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel  string                  `mapstructure:"default_level" yaml:"default_level" json:"default_level"`
	Timezone      string                  `mapstructure:"timezone" yaml:"timezone" json:"timezone"` // "Local", "UTC" or an IANA name
	Console       *ConsoleOutput          `mapstructure:"console" yaml:"console" json:"console"`
	FileOutput    *FileOutput             `mapstructure:"file_output" yaml:"file_output" json:"file_output"`
	ModuleOutputs map[string]ModuleOutput `mapstructure:"modules" yaml:"modules" json:"modules"`
	ModuleLevels  map[string]string       `mapstructure:"module_levels" yaml:"module_levels" json:"module_levels"`
}

// ConsoleOutput configures stdout logging.
type ConsoleOutput struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Level   string `mapstructure:"level" yaml:"level" json:"level"`
	Format  string `mapstructure:"format" yaml:"format" json:"format"` // text or json
}

// FileOutput configures the main JSON log file.
type FileOutput struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
	Level   string `mapstructure:"level" yaml:"level" json:"level"`
}

// ModuleOutput routes one module to its own file.
type ModuleOutput struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	FilePath    string `mapstructure:"file_path" yaml:"file_path" json:"file_path"`
	Level       string `mapstructure:"level" yaml:"level" json:"level"`
	ConsoleAlso bool   `mapstructure:"console_also" yaml:"console_also" json:"console_also"`
}

const (
	DefaultLogLevel      = "info"
	DefaultLogPath       = "logs/potholewatch.log"
	DefaultAccessLogPath = "logs/access.log"
)

// applyConfigDefaults fills nil sections so that a config file without a
// logging block still logs to the console.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: true, Level: cfg.DefaultLevel, Format: "text"}
	}
	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{Enabled: false, Path: DefaultLogPath, Level: cfg.DefaultLevel}
	}
	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)
	}
}
