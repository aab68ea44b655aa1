package app

import (
	"github.com/spf13/viper"

	"github.com/potholewatch/potholewatch/internal/buildinfo"
	"github.com/potholewatch/potholewatch/internal/conf"
	"github.com/potholewatch/potholewatch/internal/logger"
)

// Context is shared by all commands. Settings and Log are filled in by the
// root command before a subcommand runs.
type Context struct {
	Build    *buildinfo.Context
	Settings *conf.Settings
	Log      logger.Logger

	central *logger.CentralLogger
}

// NewContext returns a Context with a discarding logger.
func NewContext(build *buildinfo.Context) *Context {
	return &Context{Build: build, Log: logger.NewDiscard()}
}

// Init loads the settings, from configFile when it is not empty, and sets
// up the central logger.
func (c *Context) Init(configFile string) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	}
	settings, err := conf.Load()
	if err != nil {
		return err
	}
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return err
	}
	logger.SetGlobal(central)

	c.Settings = settings
	c.central = central
	c.Log = central.Module("main")
	c.Log.Debug("settings loaded",
		logger.String("version", c.Build.GetVersion()),
		logger.String("config", viper.ConfigFileUsed()))
	return nil
}

// Close flushes and closes the log files.
func (c *Context) Close() {
	if c.central != nil {
		_ = c.central.Close()
	}
}
