// Package main is a program that fetches a random fact every so often
// and prints it.
//
// Configuration comes from an optional YAML file (-c), then
// environment variables (METRONOME_*), and then command-line flags.
// See the config package.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Comcast/metronome/config"
	"github.com/Comcast/metronome/util"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		complain(os.Stderr, err)
		os.Exit(1)
	}
}

// reported is an error that a sink has already shown.
type reported struct {
	error
}

func (r *reported) Unwrap() error {
	return r.error
}

// complain writes err unless it was already reported.
func complain(w io.Writer, err error) {
	var r *reported
	if errors.As(err, &r) {
		return
	}
	fmt.Fprintf(w, "metronome: %v\n", err)
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "metronome",
		Usage: "fetch and print a random fact on a schedule",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "optional YAML configuration file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn, or error",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "verbose component logging",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			fetchCommand(),
			historyCommand(),
		},
	}
}

func receiverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "name",
			Usage: "command name used in reports",
		},
		&cli.StringFlag{
			Name:  "url",
			Usage: "fact endpoint",
		},
		&cli.StringFlag{
			Name:  "extract",
			Usage: "Javascript expression that computes the text from 'payload'",
		},
		&cli.IntFlag{
			Name:  "retries",
			Usage: "HTTP retries per fetch",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "HTTP timeout per fetch",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "print whole reports as JSON",
		},
		&cli.BoolFlag{
			Name:  "tags",
			Usage: "prefix lines with 'fact' or 'error'",
		},
		&cli.BoolFlag{
			Name:  "timestamps",
			Usage: "prefix lines with the report time",
		},
	}
}

// loadConfig reads the configuration, overlays the flags that were
// given, validates the result, and sets up logging.
func loadConfig(cctx *cli.Context) (*config.Config, error) {
	c, err := config.Load(cctx.String("config"))
	if err != nil {
		return nil, err
	}

	overlay(cctx, c)

	if err := c.Validate(); err != nil {
		return nil, err
	}

	log, err := util.NewLogger(c.LogLevel)
	if err != nil {
		return nil, err
	}
	util.SetLogger(log)

	return c, nil
}

func overlay(cctx *cli.Context, c *config.Config) {
	str := func(name string, v *string) {
		if cctx.IsSet(name) {
			*v = cctx.String(name)
		}
	}
	boolean := func(name string, v *bool) {
		if cctx.IsSet(name) {
			*v = cctx.Bool(name)
		}
	}

	str("log-level", &c.LogLevel)
	boolean("debug", &c.Debug)

	str("name", &c.Name)
	str("url", &c.Receiver.URL)
	str("extract", &c.Receiver.Extract)
	if cctx.IsSet("retries") {
		c.Receiver.Retries = cctx.Int("retries")
	}
	if cctx.IsSet("timeout") {
		c.Receiver.Timeout = cctx.Duration("timeout")
	}
	boolean("debug", &c.Receiver.Debug)

	boolean("json", &c.Stdio.JSON)
	boolean("tags", &c.Stdio.Tags)
	boolean("timestamps", &c.Stdio.Timestamps)

	if cctx.IsSet("interval") {
		c.IntervalSeconds = cctx.Int("interval")
	}
	str("cron", &c.Cron)
	str("overlap", &c.Overlap)
	str("db", &c.DB)
	str("listen", &c.Listen)
	boolean("websocket", &c.WebSocket)
	boolean("mqtt", &c.MQTT.Enabled)
	str("mqtt-broker", &c.MQTT.Broker)
	str("mqtt-topic", &c.MQTT.Topic)
}
