/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Comcast/metronome/util"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// CommandPlaceholder in an MQTT topic is replaced with the report's
// command name.
const CommandPlaceholder = "{command}"

// PublishTimeout is returned when a publish isn't acknowledged in
// time.
var PublishTimeout = errors.New("mqtt publish timeout")

// Publisher is the part of an mqtt.Client that MQTT uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes each report as JSON.
type MQTT struct {
	Client Publisher

	// Topic may contain CommandPlaceholder.
	Topic    string
	QoS      byte
	Retained bool

	// Timeout bounds the wait for the broker.  Zero means no
	// wait at all (fire and forget).
	Timeout time.Duration
}

// NewMQTT makes an MQTT sink that publishes to the given topic.
func NewMQTT(c Publisher, topic string, qos byte) *MQTT {
	return &MQTT{
		Client:  c,
		Topic:   topic,
		QoS:     qos,
		Timeout: 5 * time.Second,
	}
}

func (m *MQTT) topic(r *Report) string {
	return strings.ReplaceAll(m.Topic, CommandPlaceholder, r.Command)
}

// Emit publishes the report.
func (m *MQTT) Emit(ctx context.Context, r *Report) error {
	js, err := json.Marshal(r)
	if err != nil {
		return err
	}

	topic := m.topic(r)
	token := m.Client.Publish(topic, m.QoS, m.Retained, js)
	if m.Timeout <= 0 {
		return nil
	}

	timer := time.NewTimer(m.Timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: topic %s", PublishTimeout, topic)
	case <-token.Done():
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// MQTTConfig follows mosquitto_pub's options more or less.
type MQTTConfig struct {
	Broker    string        `yaml:"broker" env:"BROKER"`
	Port      int           `yaml:"port" env:"PORT"`
	ClientId  string        `yaml:"clientId" env:"CLIENT_ID"`
	KeepAlive time.Duration `yaml:"keepAlive" env:"KEEP_ALIVE"`
	Username  string        `yaml:"username" env:"USERNAME"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	Clean     bool          `yaml:"clean" env:"CLEAN"`
	Reconnect bool          `yaml:"reconnect" env:"RECONNECT"`

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint `yaml:"quiesce" env:"QUIESCE"`

	CertFile string `yaml:"certFile" env:"CERT_FILE"`
	KeyFile  string `yaml:"keyFile" env:"KEY_FILE"`
	CAFile   string `yaml:"caFile" env:"CA_FILE"`
	Insecure bool   `yaml:"insecure" env:"INSECURE"`

	Topic    string `yaml:"topic" env:"TOPIC"`
	QoS      byte   `yaml:"qos" env:"QOS"`
	Retained bool   `yaml:"retained" env:"RETAINED"`

	ConnectTimeout time.Duration `yaml:"connectTimeout" env:"CONNECT_TIMEOUT"`
}

// DefaultMQTTConfig has the defaults for MQTTConfig.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:         "tcp://localhost",
		Port:           1883,
		KeepAlive:      10 * time.Second,
		Clean:          true,
		Quiesce:        100,
		Topic:          "metronome/" + CommandPlaceholder,
		ConnectTimeout: 10 * time.Second,
	}
}

// ClientOptions makes paho client options from this config.
func (c MQTTConfig) ClientOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions()

	opts.AddBroker(fmt.Sprintf("%s:%d", c.Broker, c.Port))
	opts.SetClientID(c.ClientId)
	opts.SetKeepAlive(c.KeepAlive)

	opts.Username = c.Username
	opts.Password = c.Password
	opts.AutoReconnect = c.Reconnect
	opts.CleanSession = c.Clean

	tlsConf := &tls.Config{
		InsecureSkipVerify: c.Insecure,
	}

	if c.CAFile != "" {
		rootCAs, _ := x509.SystemCertPool()
		if rootCAs == nil {
			rootCAs = x509.NewCertPool()
		}
		certs, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("couldn't read '%s': %w", c.CAFile, err)
		}
		if ok := rootCAs.AppendCertsFromPEM(certs); !ok {
			util.Logger().Warnf("no certs appended from %s, using system certs only", c.CAFile)
		}
		tlsConf.RootCAs = rootCAs
	}

	if c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, err
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}

	opts.SetTLSConfig(tlsConf)

	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		util.Logger().Warnf("MQTT connection lost: %v", err)
	}

	return opts, nil
}

// NewMQTTClient makes a client and connects it to the broker.
func NewMQTTClient(c MQTTConfig) (mqtt.Client, error) {
	opts, err := c.ClientOptions()
	if err != nil {
		return nil, err
	}

	client := mqtt.NewClient(opts)

	util.Logger().Infof("connecting to MQTT broker %v", opts.Servers)
	token := client.Connect()
	if !token.WaitTimeout(c.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %v", c.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	util.Logger().Infof("connected to MQTT broker")

	return client, nil
}
