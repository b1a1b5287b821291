// Package storage persists the history of reports, one history per
// command.
package storage

import (
	"context"
	"errors"

	"github.com/Comcast/metronome/sink"
)

// NotFound occurs when a command has no history at all.
var NotFound = errors.New("not found")

// Storage is a persistence interface for report history.
type Storage interface {
	// MakeCommand prepares storage for the named command.
	MakeCommand(ctx context.Context, name string) error

	// RemCommand forgets the named command and its history.
	RemCommand(ctx context.Context, name string) error

	// GetHistory returns the newest limit reports, oldest first.
	// A limit of zero or less means all of them.
	GetHistory(ctx context.Context, name string, limit int) ([]*sink.Report, error)

	// WriteReports appends reports to the command's history.
	WriteReports(ctx context.Context, name string, rs []*sink.Report) error

	// Commands lists the commands that have history.
	Commands(ctx context.Context) ([]string, error)

	Close(ctx context.Context) error
}

// AsSink returns a Sink that appends each report to the history of
// the report's command.
func AsSink(s Storage) sink.Sink {
	return sink.Func(func(ctx context.Context, r *sink.Report) error {
		return s.WriteReports(ctx, r.Command, []*sink.Report{r})
	})
}
