package server

import (
	"errors"
	"time"

	"github.com/BurntSushi/toml"
)

type (
	// The Config type contains fields used to configure the admin service.
	Config struct {
		// The operator-facing HTTP API.
		Admin AdminConfig `toml:"admin"`
		// Locations of the persisted documents.
		Data DataConfig `toml:"data"`
		// The resolver daemon this service configures.
		Unbound UnboundConfig `toml:"unbound"`
		// Periodic blocklist refresh behavior.
		Refresh RefreshConfig `toml:"refresh"`
		// Logging configuration values.
		Logging *LoggingConfig `toml:"logging"`
	}

	// The AdminConfig type contains fields for the admin HTTP listener.
	AdminConfig struct {
		// The bind address of the admin API and metrics endpoint.
		Bind string `toml:"bind"`
	}

	// The DataConfig type contains fields locating persisted state.
	DataConfig struct {
		// Directory holding the settings, blocklist, whitelist and record
		// documents as well as the query log.
		Dir string `toml:"dir"`
	}

	// The UnboundConfig type contains fields describing the resolver daemon.
	UnboundConfig struct {
		// Directory the generated configuration and fragments are installed to.
		ConfDir string `toml:"conf-dir"`
		// Path of the configuration validator binary.
		Checkconf string `toml:"checkconf"`
		// Path of the control channel binary.
		Control string `toml:"control"`
		// Path of the user-supplied configuration used in custom mode.
		CustomConf string `toml:"custom-conf"`
	}

	// The RefreshConfig type contains fields for the periodic blocklist
	// refresh.
	RefreshConfig struct {
		// Time between automatic refreshes.
		Interval time.Duration `toml:"interval"`
	}

	// The LoggingConfig type contains fields used to configure logging.
	LoggingConfig struct {
		// The log level, one of debug, info, warn or error.
		Level string `toml:"level"`
	}
)

// DefaultConfig returns a Config type containing default working values for
// the admin service, matching the conventional add-on container layout.
func DefaultConfig() Config {
	return Config{
		Admin: AdminConfig{
			Bind: "0.0.0.0:2137",
		},
		Data: DataConfig{
			Dir: "/data",
		},
		Unbound: UnboundConfig{
			ConfDir:    "/etc/unbound",
			Checkconf:  "unbound-checkconf",
			Control:    "unbound-control",
			CustomConf: "/data/unbound_custom.conf",
		},
		Refresh: RefreshConfig{
			Interval: 24 * time.Hour,
		},
	}
}

// LoadConfig the configuration file at the specified path. The configuration
// file is expected in TOML format.
func LoadConfig(path string) (Config, error) {
	var config Config
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate the configuration fields.
func (c *Config) Validate() error {
	return errors.Join(
		c.Admin.validate(),
		c.Data.validate(),
		c.Unbound.validate(),
		c.Refresh.validate(),
	)
}

func (c *AdminConfig) validate() error {
	if c.Bind == "" {
		return errors.New("admin bind address must be specified")
	}

	return nil
}

func (c *DataConfig) validate() error {
	if c.Dir == "" {
		return errors.New("data directory must be specified")
	}

	return nil
}

func (c *UnboundConfig) validate() error {
	return errors.Join(
		requireField("unbound conf directory", c.ConfDir),
		requireField("checkconf binary", c.Checkconf),
		requireField("control binary", c.Control),
	)
}

func (c *RefreshConfig) validate() error {
	if c.Interval <= 0 {
		return errors.New("refresh interval must be positive")
	}

	return nil
}

func requireField(name, value string) error {
	if value == "" {
		return errors.New(name + " must be specified")
	}

	return nil
}
