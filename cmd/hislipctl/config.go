package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-hislip/client"
	"github.com/arloliu/go-hislip/logger"
)

// Profile is the session configuration of one instrument in the configuration file.
type Profile struct {
	Address     string        `yaml:"address"`
	Timeout     time.Duration `yaml:"timeout"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	MaxReadSize uint64        `yaml:"max_read_size"`
}

// ConfigFile is the YAML configuration file of hislipctl.
type ConfigFile struct {
	// Default is the profile used when --profile is not given.
	Default  string             `yaml:"default"`
	Profiles map[string]Profile `yaml:"profiles"`
	LogLevel string             `yaml:"log_level"`
	LogFile  string             `yaml:"log_file"`
}

var (
	errNoAddress       = errors.New("no instrument address, use --address or a profile")
	errProfileNotFound = errors.New("profile not found")
)

// LoadConfigFile reads and decodes the configuration file at path.
func LoadConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &ConfigFile{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config file %s: %w", path, err)
	}

	return cfg, nil
}

// Profile returns the named profile, or the default profile if name is empty.
func (c *ConfigFile) Profile(name string) (Profile, error) {
	if name == "" {
		name = c.Default
	}
	if name == "" && len(c.Profiles) == 1 {
		for _, p := range c.Profiles {
			return p, nil
		}
	}

	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", errProfileNotFound, name)
	}

	return p, nil
}

type globalOptions struct {
	configPath string
	profile    string

	address     string
	timeout     time.Duration
	lockTimeout time.Duration
	maxReadSize uint64
	logLevel    string
	logFile     string

	logger logger.Logger
	closer func() error
}

func (o *globalOptions) addFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.address, "address", "a", "", "VISA HiSLIP address, e.g. TCPIP::192.168.1.10::hislip0::INSTR")
	flags.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&o.profile, "profile", "p", "", "profile of the configuration file")
	flags.DurationVarP(&o.timeout, "timeout", "t", 10*time.Second, "I/O timeout, 0 blocks forever")
	flags.DurationVar(&o.lockTimeout, "lock-timeout", 0, "time the server waits to grant a lock, negative waits forever")
	flags.Uint64Var(&o.maxReadSize, "max-read-size", 1024*1024, "largest response accepted, in bytes")
	flags.StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	flags.StringVar(&o.logFile, "log-file", "", "write JSON logs to a size-rotated file instead of stderr")
}

// resolve merges the selected profile with the flags. Flags given on the command line win.
func (o *globalOptions) resolve(cmd *cobra.Command) error {
	flags := cmd.Flags()

	if o.configPath != "" {
		file, err := LoadConfigFile(o.configPath)
		if err != nil {
			return err
		}

		p, err := file.Profile(o.profile)
		if err != nil {
			return err
		}

		if !flags.Changed("address") {
			o.address = p.Address
		}
		if !flags.Changed("timeout") && p.Timeout != 0 {
			o.timeout = p.Timeout
		}
		if !flags.Changed("lock-timeout") && p.LockTimeout != 0 {
			o.lockTimeout = p.LockTimeout
		}
		if !flags.Changed("max-read-size") && p.MaxReadSize != 0 {
			o.maxReadSize = p.MaxReadSize
		}
		if !flags.Changed("log-level") && file.LogLevel != "" {
			o.logLevel = file.LogLevel
		}
		if !flags.Changed("log-file") && file.LogFile != "" {
			o.logFile = file.LogFile
		}
	}

	level, err := logger.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}

	if o.logFile != "" {
		zl := logger.NewZap(level, logger.ZapOptions{Filename: o.logFile, MaxSize: 10, MaxBackups: 3})
		o.logger, o.closer = zl, zl.Close
	} else {
		o.logger = logger.NewSlogWithWriter(cmd.ErrOrStderr(), level, false, os.Getenv("HISLIP_ENV") == "development")
	}

	return nil
}

func (o *globalOptions) close() error {
	if o.closer != nil {
		return o.closer()
	}

	return nil
}

// sessionConfig builds the session configuration from the resolved options.
func (o *globalOptions) sessionConfig() (*client.SessionConfig, error) {
	if o.address == "" {
		return nil, errNoAddress
	}

	opts := []client.SessionOption{
		client.WithTimeout(o.timeout),
		client.WithLockTimeout(o.lockTimeout),
		client.WithMaxReadSize(o.maxReadSize),
	}
	if o.logger != nil {
		opts = append(opts, client.WithLogger(o.logger))
	}

	return client.NewSessionConfig(o.address, opts...)
}
