package store

import (
	"context"
	"errors"

	"github.com/seantiz/dutharness/internal/model"
)

// ErrInvalidTransition is returned when a report would move a run to a
// status it may not reach, such as any report after a terminal one.
var ErrInvalidTransition = errors.New("invalid status transition")

// RunStats holds aggregate run statistics.
type RunStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByTest   map[string]int `json:"count_by_test"`
	Reports       int            `json:"reports"`
}

// Store defines the persistence operations for runs and their reports.
type Store interface {
	SaveReport(ctx context.Context, r model.Report) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	GetReports(ctx context.Context, runID string) ([]model.Report, error)
	GetRunStats(ctx context.Context) (*RunStats, error)
	Close() error
}
