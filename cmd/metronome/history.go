package main

import (
	"fmt"

	"github.com/Comcast/metronome/service"
	"github.com/Comcast/metronome/storage/bolt"

	"github.com/urfave/cli/v2"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "print the recorded history of a command",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Usage: "bolt file that records history",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "command name",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "newest reports to show (0 means all)",
				Value: service.DefaultLimit,
			},
			&cli.BoolFlag{
				Name:  "html",
				Usage: "render an HTML report",
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
		},
		Action: history,
	}
}

func history(cctx *cli.Context) error {
	c, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	if c.DB == "" {
		return fmt.Errorf("history needs a db")
	}

	ctx := cctx.Context

	s, err := bolt.NewStorage(c.DB)
	if err != nil {
		return err
	}
	s.Debug = c.Debug
	if err := s.Open(ctx); err != nil {
		return err
	}
	defer s.Close(ctx)

	rs, err := s.GetHistory(ctx, c.Name, cctx.Int("limit"))
	if err != nil {
		return fmt.Errorf("history of %s: %w", c.Name, err)
	}

	if cctx.Bool("html") {
		return service.RenderHistoryHTML(c.Name, rs, cctx.App.Writer)
	}

	// Everything goes to Writer since this is the output that was
	// asked for.
	out := c.NewStdio()
	out.Out = cctx.App.Writer
	out.Err = cctx.App.Writer
	for _, r := range rs {
		if err := out.Emit(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
