package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/Comcast/metronome/command"
	"github.com/Comcast/metronome/invoker"
	"github.com/Comcast/metronome/receiver"
	"github.com/Comcast/metronome/service"
	"github.com/Comcast/metronome/sink"
	"github.com/Comcast/metronome/storage"
	"github.com/Comcast/metronome/storage/bolt"
	"github.com/Comcast/metronome/util"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// StopTimeout bounds the wait for in-flight executions at shutdown.
var StopTimeout = 10 * time.Second

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "fetch and print on a schedule until interrupted",
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:  "interval",
				Usage: "seconds between ticks",
			},
			&cli.StringFlag{
				Name:  "cron",
				Usage: "cron expression (overrides interval)",
			},
			&cli.StringFlag{
				Name:  "overlap",
				Usage: "allow or skip ticks while an execution is in flight",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "stop after this many executions (0 means never)",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "bolt file that records history",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "address for the HTTP service",
			},
			&cli.BoolFlag{
				Name:  "websocket",
				Usage: "stream reports at /ws (requires listen)",
			},
			&cli.BoolFlag{
				Name:  "mqtt",
				Usage: "publish reports to an MQTT broker",
			},
			&cli.StringFlag{
				Name:  "mqtt-broker",
				Usage: "MQTT broker URL without the port",
			},
			&cli.StringFlag{
				Name:  "mqtt-topic",
				Usage: "MQTT topic, which can include {command}",
			},
		}, receiverFlags()...),
		Action: run,
	}
}

func run(cctx *cli.Context) error {
	c, err := loadConfig(cctx)
	if err != nil {
		return err
	}

	log := util.Logger().With("command", c.Name)

	ctx, cancel := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r, err := receiver.NewFactReceiver(c.Receiver.URL, c.ReceiverOptions(log)...)
	if err != nil {
		return err
	}

	out := c.NewStdio()
	out.Out = cctx.App.Writer
	out.Err = cctx.App.ErrWriter
	sinks := sink.Multi{out}

	var st storage.Storage = &storage.NoopStorage{}
	if c.DB != "" {
		bs, err := bolt.NewStorage(c.DB)
		if err != nil {
			return err
		}
		bs.Debug = c.Debug
		if err := bs.Open(ctx); err != nil {
			return err
		}
		defer bs.Close(context.Background())
		if err := bs.MakeCommand(ctx, c.Name); err != nil {
			return err
		}
		st = bs
		sinks = append(sinks, storage.AsSink(bs))
	}

	if c.MQTT.Enabled {
		client, err := sink.NewMQTTClient(c.MQTT.MQTTConfig)
		if err != nil {
			return err
		}
		defer client.Disconnect(c.MQTT.Quiesce)
		m := sink.NewMQTT(client, c.MQTT.Topic, c.MQTT.QoS)
		m.Retained = c.MQTT.Retained
		sinks = append(sinks, m)
	}

	var (
		hub    *sink.Hub
		recent *service.Recent
	)
	if c.Listen != "" {
		recent = service.NewRecent(1024)
		sinks = append(sinks, recent)
		if c.WebSocket {
			hub = sink.NewHub()
			sinks = append(sinks, hub)
		}
	}

	sched, err := c.Schedule()
	if err != nil {
		return err
	}
	overlap, err := invoker.ParseOverlap(c.Overlap)
	if err != nil {
		return err
	}

	opts := []invoker.Option{
		invoker.WithOverlap(overlap),
		invoker.WithLogger(log),
		invoker.WithDebug(c.Debug),
	}

	count := cctx.Int("count")
	outcomes := make(chan *invoker.Outcome, 64)
	if 0 < count {
		opts = append(opts, invoker.WithOutcomes(outcomes))
	}

	inv := invoker.New(command.NewPrintCommand(c.Name, r, sinks), sched, opts...)

	g, gctx := errgroup.WithContext(ctx)

	// Executions shouldn't see the interrupt.  Stop drains them.
	h, err := inv.Start(context.WithoutCancel(gctx))
	if err != nil {
		return err
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-h.Done():
		}
		log.Infof("Stopping after %d ticks", h.Ticks())
		sctx, stopCancel := context.WithTimeout(context.Background(), StopTimeout)
		defer stopCancel()
		err := h.Stop(sctx)
		// No more ticks means nothing left to serve.
		cancel()
		return err
	})

	if 0 < count {
		g.Go(func() error {
			for seen := 0; seen < count; {
				select {
				case <-gctx.Done():
					return nil
				case o := <-outcomes:
					if !o.Skipped {
						seen++
					}
				}
			}
			log.Infof("Done after %d executions", count)
			cancel()
			return nil
		})
	}

	if c.Listen != "" {
		svc := service.NewService(st, recent, hub)
		svc.Debug = c.Debug
		g.Go(func() error {
			return svc.Run(gctx, c.Listen)
		})
	}

	return g.Wait()
}
