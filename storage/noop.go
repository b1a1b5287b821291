package storage

import (
	"context"

	"github.com/Comcast/metronome/sink"
)

type NoopStorage struct {
}

func (s *NoopStorage) MakeCommand(ctx context.Context, name string) error {
	return nil
}

func (s *NoopStorage) RemCommand(ctx context.Context, name string) error {
	return nil
}

func (s *NoopStorage) GetHistory(ctx context.Context, name string, limit int) ([]*sink.Report, error) {
	return nil, nil
}

func (s *NoopStorage) WriteReports(ctx context.Context, name string, rs []*sink.Report) error {
	return nil
}

func (s *NoopStorage) Commands(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *NoopStorage) Close(ctx context.Context) error {
	return nil
}
