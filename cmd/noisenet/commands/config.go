package commands

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"time"

	"github.com/opd-ai/noisenet"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// CLIConfig contains the configuration shared by all commands
type CLIConfig struct {
	DataDir          string        `mapstructure:"datadir"`
	LogLevel         string        `mapstructure:"log"`
	Bootstrap        []string      `mapstructure:"bootstrap"`
	Port             int           `mapstructure:"port"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxBindRetries   int           `mapstructure:"max-bind-retries"`
	AnnounceInterval time.Duration `mapstructure:"announce-interval"`
	LookupInterval   time.Duration `mapstructure:"lookup-interval"`
	HolepunchTimeout time.Duration `mapstructure:"holepunch-timeout"`
	TTL              time.Duration `mapstructure:"ttl"`

	logger *logrus.Logger
}

// NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	opts := noisenet.NewOptions()
	return &CLIConfig{
		DataDir:          defaultDataDir(),
		LogLevel:         "info",
		Port:             49737,
		MaxBindRetries:   opts.MaxBindRetries,
		AnnounceInterval: opts.AnnounceInterval,
		LookupInterval:   opts.LookupInterval,
		HolepunchTimeout: opts.HolepunchTimeout,
	}
}

// Logger returns a logger writing with the prefixed formatter at the
// configured level.
func (c *CLIConfig) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = logLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "noisenet")
}

// Options converts the CLI configuration into library options.
func (c *CLIConfig) Options() *noisenet.Options {
	opts := noisenet.NewOptions()
	opts.Bootstrap = c.Bootstrap
	opts.MaxBindRetries = c.MaxBindRetries
	opts.AnnounceInterval = c.AnnounceInterval
	opts.LookupInterval = c.LookupInterval
	opts.HolepunchTimeout = c.HolepunchTimeout
	opts.DialTimeout = c.Timeout
	opts.Logger = c.Logger().Logger
	return opts
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := bindFlagsLoadViper(cmd); err != nil {
		return err
	}

	_config.Logger().WithFields(logrus.Fields{
		"datadir":           _config.DataDir,
		"bootstrap":         _config.Bootstrap,
		"port":              _config.Port,
		"timeout":           _config.Timeout,
		"max-bind-retries":  _config.MaxBindRetries,
		"announce-interval": _config.AnnounceInterval,
		"lookup-interval":   _config.LookupInterval,
		"holepunch-timeout": _config.HolepunchTimeout,
	}).Debug("Config")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/noisenet.toml (.json, .yaml also work)
	viper.SetConfigName("noisenet")
	viper.AddConfigPath(_config.DataDir)

	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}
	_config.logger = nil
	return nil
}

func defaultDataDir() string {
	home := homeDir()
	if home == "" {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "NOISENET")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "NOISENET")
	default:
		return filepath.Join(home, ".noisenet")
	}
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

func logLevel(l string) logrus.Level {
	level, err := logrus.ParseLevel(l)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
