package main

import (
	"context"

	"github.com/Comcast/metronome/command"
	"github.com/Comcast/metronome/receiver"
	"github.com/Comcast/metronome/sink"
	"github.com/Comcast/metronome/util"

	"github.com/urfave/cli/v2"
)

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:   "fetch",
		Usage:  "fetch and print one fact",
		Flags:  receiverFlags(),
		Action: fetch,
	}
}

func fetch(cctx *cli.Context) error {
	c, err := loadConfig(cctx)
	if err != nil {
		return err
	}

	log := util.Logger().With("command", c.Name)

	r, err := receiver.NewFactReceiver(c.Receiver.URL, c.ReceiverOptions(log)...)
	if err != nil {
		return err
	}

	out := c.NewStdio()
	out.Out = cctx.App.Writer
	out.Err = cctx.App.ErrWriter

	var shown bool
	s := sink.Func(func(ctx context.Context, rep *sink.Report) error {
		err := out.Emit(ctx, rep)
		shown = rep.Failed() && err == nil
		return err
	})

	if err = command.NewPrintCommand(c.Name, r, s).Execute(cctx.Context); err != nil && shown {
		return &reported{err}
	}
	return err
}
