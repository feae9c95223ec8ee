package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/iq-capture/internal/iq"
	"github.com/roman-kulish/iq-capture/internal/pipeline"
	"github.com/roman-kulish/iq-capture/internal/storage"
)

const (
	defaultHost = "127.0.0.1"

	defaultRXPort      = 55555
	defaultTXPort      = 55556
	defaultControlPort = 55557

	defaultDataDirectory = "data"
	defaultFilePrefix    = "iq_session"
	defaultSettle        = time.Second
)

// Config represents the capture application configuration
type Config struct {
	Settings  Settings        `yaml:"settings"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Topics    iq.Topics       `yaml:"topics"`
	Storage   StorageConfig   `yaml:"storage"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// Level parses LogLevel, an empty value is INFO
func (s Settings) Level() (slog.Level, error) {
	var level slog.Level
	if s.LogLevel == "" {
		return level, nil
	}
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log level '%s'", s.LogLevel)
	}
	return level, nil
}

// EndpointsConfig holds the ZeroMQ endpoints. Intake is optional: when set, the
// writer intake is also bound there for external producers.
type EndpointsConfig struct {
	RX      string `yaml:"rx"`
	TX      string `yaml:"tx"`
	Control string `yaml:"control"`
	Intake  string `yaml:"intake"`
}

// StorageConfig represents capture file settings
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
	FilePrefix    string `yaml:"filePrefix"`
	FlushFrames   int    `yaml:"flushFrames"`
}

// TimeoutsConfig holds the pipeline timings
type TimeoutsConfig struct {
	Poll    Duration `yaml:"poll"`
	Forward Duration `yaml:"forward"`
	Control Duration `yaml:"control"`
	Join    Duration `yaml:"join"`
	Settle  Duration `yaml:"settle"`
}

// MetricsConfig enables the Prometheus endpoint when Address is set
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// NewConfig returns the configuration of a base station on the local host
func NewConfig() *Config {
	return &Config{
		Settings: Settings{LogLevel: "INFO"},
		Endpoints: EndpointsConfig{
			RX:      fmt.Sprintf("tcp://%s:%d", defaultHost, defaultRXPort),
			TX:      fmt.Sprintf("tcp://%s:%d", defaultHost, defaultTXPort),
			Control: fmt.Sprintf("tcp://%s:%d", defaultHost, defaultControlPort),
		},
		Topics: iq.DefaultTopics(),
		Storage: StorageConfig{
			DataDirectory: defaultDataDirectory,
			FilePrefix:    defaultFilePrefix,
			FlushFrames:   storage.DefaultFlushFrames,
		},
		Timeouts: TimeoutsConfig{
			Poll:    Duration(500 * time.Millisecond),
			Forward: Duration(250 * time.Millisecond),
			Control: Duration(3 * time.Second),
			Join:    Duration(pipeline.DefaultJoinTimeout),
			Settle:  Duration(defaultSettle),
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func LoadConfig(path string) (*Config, error) {
	config := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading configuration: %w", err)
		}
		if err = yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing configuration: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Settings.Level(); err != nil {
		errs = append(errs, err)
	}

	for name, endpoint := range map[string]string{
		"rx":      c.Endpoints.RX,
		"tx":      c.Endpoints.TX,
		"control": c.Endpoints.Control,
	} {
		if endpoint == "" {
			errs = append(errs, fmt.Errorf("endpoints.%s is required", name))
		} else if !strings.Contains(endpoint, "://") {
			errs = append(errs, fmt.Errorf("endpoints.%s: invalid endpoint '%s'", name, endpoint))
		}
	}
	if c.Endpoints.Intake != "" && !strings.Contains(c.Endpoints.Intake, "://") {
		errs = append(errs, fmt.Errorf("endpoints.intake: invalid endpoint '%s'", c.Endpoints.Intake))
	}

	switch {
	case c.Topics.RX == "" || c.Topics.TX == "":
		errs = append(errs, errors.New("topics.rx and topics.tx are required"))
	case c.Topics.RX == c.Topics.TX:
		errs = append(errs, fmt.Errorf("topics.rx and topics.tx must differ, both are '%s'", c.Topics.RX))
	case iq.IsToken(c.Topics.RX) || iq.IsToken(c.Topics.TX):
		errs = append(errs, errors.New("topics must not collide with session tokens"))
	}

	if c.Storage.FlushFrames < 0 {
		errs = append(errs, fmt.Errorf("storage.flushFrames must not be negative: %d", c.Storage.FlushFrames))
	}

	for name, d := range map[string]Duration{
		"poll":    c.Timeouts.Poll,
		"forward": c.Timeouts.Forward,
		"control": c.Timeouts.Control,
		"join":    c.Timeouts.Join,
		"settle":  c.Timeouts.Settle,
	} {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("timeouts.%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration written as "500ms", "3s" in YAML
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d Duration) Validate() error {
	if d < 0 {
		return fmt.Errorf("must not be negative: %s", d)
	}
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
