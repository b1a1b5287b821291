package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Comcast/metronome/invoker"
	"github.com/Comcast/metronome/receiver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c, err := LoadEnv("", map[string]string{})
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, receiver.DefaultURL, c.Receiver.URL)
	assert.Equal(t, 30*time.Second, c.Receiver.Timeout)
	assert.Equal(t, invoker.DefaultSeconds, c.IntervalSeconds)
	assert.Equal(t, "allow", c.Overlap)
	assert.Equal(t, 1883, c.MQTT.Port)
	assert.False(t, c.MQTT.Enabled)

	s, err := c.Schedule()
	require.NoError(t, err)
	assert.Equal(t, invoker.Every(5), s)
}

const doc = `
name: trivia
receiver:
  url: http://localhost:8080/fact
  extract: payload.fact
  retries: 2
intervalSeconds: 3
overlap: skip
stdio:
  tags: true
mqtt:
  enabled: true
  broker: tcp://broker
  topic: facts/{command}
  qos: 1
`

func writeConfig(t *testing.T, s string) string {
	filename := filepath.Join(t.TempDir(), "metronome.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(s), 0644))
	return filename
}

func TestYAML(t *testing.T) {
	c, err := LoadEnv(writeConfig(t, doc), map[string]string{})
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "trivia", c.Name)
	assert.Equal(t, "http://localhost:8080/fact", c.Receiver.URL)
	assert.Equal(t, "payload.fact", c.Receiver.Extract)
	assert.Equal(t, 2, c.Receiver.Retries)
	assert.Equal(t, 3, c.IntervalSeconds)
	assert.Equal(t, "skip", c.Overlap)
	assert.True(t, c.Stdio.Tags)
	assert.False(t, c.Stdio.JSON)

	assert.True(t, c.MQTT.Enabled)
	assert.Equal(t, "tcp://broker", c.MQTT.Broker)
	assert.Equal(t, "facts/{command}", c.MQTT.Topic)
	assert.EqualValues(t, 1, c.MQTT.QoS)

	// Unmentioned values keep their defaults.
	assert.Equal(t, 1883, c.MQTT.Port)
	assert.Equal(t, 30*time.Second, c.Receiver.Timeout)
}

func TestEnvironmentWins(t *testing.T) {
	c, err := LoadEnv(writeConfig(t, doc), map[string]string{
		"METRONOME_INTERVAL_SECONDS":     "7",
		"METRONOME_RECEIVER_URL":         "http://elsewhere/",
		"METRONOME_RECEIVER_TIMEOUT":     "2s",
		"METRONOME_MQTT_TOPIC":           "other",
		"METRONOME_STDIO_TIMESTAMPS":     "true",
		"METRONOME_LOG_LEVEL":            "debug",
		"INTERVAL_SECONDS":               "9",
		"METRONOME_MQTT_CONNECT_TIMEOUT": "1s",
	})
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, 7, c.IntervalSeconds)
	assert.Equal(t, "http://elsewhere/", c.Receiver.URL)
	assert.Equal(t, 2*time.Second, c.Receiver.Timeout)
	assert.Equal(t, "other", c.MQTT.Topic)
	assert.Equal(t, time.Second, c.MQTT.ConnectTimeout)
	assert.True(t, c.Stdio.Timestamps)
	assert.True(t, c.Stdio.Tags)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestBadEnvironment(t *testing.T) {
	_, err := LoadEnv("", map[string]string{
		"METRONOME_INTERVAL_SECONDS": "often",
	})
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := LoadEnv(filepath.Join(t.TempDir(), "nope.yaml"), map[string]string{})
	assert.Error(t, err)
}

func TestBadYAML(t *testing.T) {
	_, err := LoadEnv(writeConfig(t, "intervalSeconds: [1, 2"), map[string]string{})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(c *Config){
		"name":      func(c *Config) { c.Name = "" },
		"interval":  func(c *Config) { c.IntervalSeconds = -1 },
		"cron":      func(c *Config) { c.Cron = "now and then" },
		"overlap":   func(c *Config) { c.Overlap = "queue" },
		"log level": func(c *Config) { c.LogLevel = "chatty" },
		"websocket": func(c *Config) { c.WebSocket = true },
		"mqtt": func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.Topic = ""
		},
	}
	for name, f := range tests {
		t.Run(name, func(t *testing.T) {
			c := Defaults()
			f(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestCronSchedule(t *testing.T) {
	c := Defaults()
	c.Cron = "*/10 * * * * * *"
	require.NoError(t, c.Validate())
	s, err := c.Schedule()
	require.NoError(t, err)
	assert.Equal(t, "cron */10 * * * * * *", s.String())
}

func TestNewStdio(t *testing.T) {
	c := Defaults()
	c.Stdio.PadTags = true
	c.Stdio.JSON = true
	s := c.NewStdio()
	assert.True(t, s.PadTags)
	assert.True(t, s.JSON)
	assert.False(t, s.Tags)
}
