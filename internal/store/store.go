package store

import (
	"context"
	"time"
)

// Run is one publish run as recorded in history.
type Run struct {
	RunID       string
	Workspace   string
	Environment string
	Package     string
	Version     string
	Filename    string
	Status      string
	Detail      string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Store persists run history.
type Store interface {
	RecordRun(ctx context.Context, run Run) error
	Recent(ctx context.Context, pkg string, limit int) ([]Run, error)
}

// NullStore keeps nothing.
type NullStore struct{}

func (NullStore) RecordRun(context.Context, Run) error { return nil }

func (NullStore) Recent(context.Context, string, int) ([]Run, error) { return nil, nil }
