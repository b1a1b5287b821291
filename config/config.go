// Package config gathers everything needed to run a metronome.
//
// Values come from Defaults, then (optionally) a YAML file, then the
// environment (with prefix METRONOME_), and finally whatever command
// line flags the program overlays.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Comcast/metronome/invoker"
	"github.com/Comcast/metronome/receiver"
	"github.com/Comcast/metronome/sink"

	"github.com/caarlos0/env/v11"
	"github.com/jsccast/yaml"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment variable we look at.
const EnvPrefix = "METRONOME_"

type Receiver struct {
	URL string `yaml:"url" env:"URL"`

	// Extract is an optional Javascript expression that computes
	// the text from "payload".
	Extract string `yaml:"extract" env:"EXTRACT"`

	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Retries int           `yaml:"retries" env:"RETRIES"`
	Cookies bool          `yaml:"cookies" env:"COOKIES"`
	Debug   bool          `yaml:"debug" env:"DEBUG"`
}

type Stdio struct {
	Timestamps bool `yaml:"timestamps" env:"TIMESTAMPS"`
	Tags       bool `yaml:"tags" env:"TAGS"`
	PadTags    bool `yaml:"padTags" env:"PAD_TAGS"`
	JSON       bool `yaml:"json" env:"JSON"`
}

type MQTT struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	sink.MQTTConfig `yaml:",inline"`
}

type Config struct {
	// Name identifies the command in reports and metrics.
	Name string `yaml:"name" env:"NAME"`

	Receiver Receiver `yaml:"receiver" envPrefix:"RECEIVER_"`

	// IntervalSeconds is the period of the schedule.  Ignored if
	// Cron is given.
	IntervalSeconds int `yaml:"intervalSeconds" env:"INTERVAL_SECONDS"`

	// Cron is an optional cron expression.
	Cron string `yaml:"cron" env:"CRON"`

	// Overlap is "allow" or "skip".
	Overlap string `yaml:"overlap" env:"OVERLAP"`

	Stdio Stdio `yaml:"stdio" envPrefix:"STDIO_"`
	MQTT  MQTT  `yaml:"mqtt" envPrefix:"MQTT_"`

	// WebSocket enables the /ws endpoint (which requires Listen).
	WebSocket bool `yaml:"websocket" env:"WEBSOCKET"`

	// DB is the filename of a bolt database that records history.
	DB string `yaml:"db" env:"DB"`

	// Listen is the address for the HTTP service.  Empty means no
	// service.
	Listen string `yaml:"listen" env:"LISTEN"`

	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"logLevel" env:"LOG_LEVEL"`

	Debug bool `yaml:"debug" env:"DEBUG"`
}

// Defaults returns a Config that prints a fact every five seconds.
func Defaults() *Config {
	return &Config{
		Name: "facts",
		Receiver: Receiver{
			URL:     receiver.DefaultURL,
			Timeout: 30 * time.Second,
		},
		IntervalSeconds: invoker.DefaultSeconds,
		Overlap:         invoker.Allow.String(),
		MQTT: MQTT{
			MQTTConfig: sink.DefaultMQTTConfig(),
		},
		LogLevel: "info",
	}
}

// Load starts with Defaults, then reads the given YAML file (if
// filename isn't empty), and then looks at the environment.
func Load(filename string) (*Config, error) {
	return LoadEnv(filename, nil)
}

// LoadEnv is Load with the given environment instead of the process's
// environment (when environment isn't nil).
func LoadEnv(filename string, environment map[string]string) (*Config, error) {
	c := Defaults()

	if filename != "" {
		bs, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(bs, c); err != nil {
			return nil, fmt.Errorf("config %s: %w", filename, err)
		}
	}

	opts := env.Options{
		Prefix: EnvPrefix,
	}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}

	return c, nil
}

// Validate checks what it can without doing any I/O.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config: empty name")
	}
	if c.IntervalSeconds < 0 {
		return fmt.Errorf("config: negative interval %d", c.IntervalSeconds)
	}
	if _, err := c.Schedule(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := invoker.ParseOverlap(c.Overlap); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: bad log level %q", c.LogLevel)
	}
	if c.WebSocket && c.Listen == "" {
		return fmt.Errorf("config: websocket requires listen")
	}
	if c.MQTT.Enabled && c.MQTT.Topic == "" {
		return fmt.Errorf("config: MQTT requires a topic")
	}
	return nil
}

// Schedule returns the cron schedule if there's a Cron expression and
// otherwise an interval of IntervalSeconds.
func (c *Config) Schedule() (invoker.Schedule, error) {
	if c.Cron != "" {
		return invoker.Cron(c.Cron)
	}
	return invoker.Every(c.IntervalSeconds), nil
}

// ReceiverOptions renders the receiver part as options for
// receiver.NewFactReceiver.
func (c *Config) ReceiverOptions(log *zap.SugaredLogger) []receiver.Option {
	copts := []receiver.ClientOption{
		receiver.WithTimeout(c.Receiver.Timeout),
		receiver.WithRetries(c.Receiver.Retries),
		receiver.WithClientLogger(log),
	}
	if c.Receiver.Cookies {
		copts = append(copts, receiver.WithCookies())
	}

	return []receiver.Option{
		receiver.WithClient(receiver.NewClient(copts...)),
		receiver.WithExtract(c.Receiver.Extract),
		receiver.WithDebug(c.Receiver.Debug),
		receiver.WithLogger(log),
	}
}

// NewStdio makes a Stdio sink with the configured decorations.
func (c *Config) NewStdio() *sink.Stdio {
	s := sink.NewStdio()
	s.Timestamps = c.Stdio.Timestamps
	s.Tags = c.Stdio.Tags
	s.PadTags = c.Stdio.PadTags
	s.JSON = c.Stdio.JSON
	return s
}
