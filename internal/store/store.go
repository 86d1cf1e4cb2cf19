package store

import (
	"context"

	"panorama/internal/model"
)

// Store is the optional run ledger. It records every collection attempt and
// mirrors the latest successful table of each source.
type Store interface {
	RecordRun(ctx context.Context, run model.Run) error
	ReplaceSnapshot(ctx context.Context, run model.Run, tbl model.Table) error
	LatestRuns(ctx context.Context, status model.RunStatus) ([]model.Run, error)
	Close() error
}

type NopStore struct{}

func (s *NopStore) RecordRun(ctx context.Context, run model.Run) error {
	_ = ctx
	_ = run
	return nil
}

func (s *NopStore) ReplaceSnapshot(ctx context.Context, run model.Run, tbl model.Table) error {
	_ = ctx
	_ = run
	_ = tbl
	return nil
}

func (s *NopStore) LatestRuns(ctx context.Context, status model.RunStatus) ([]model.Run, error) {
	_ = ctx
	_ = status
	return nil, nil
}

func (s *NopStore) Close() error {
	return nil
}
