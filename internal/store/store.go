package store

import (
	"context"
	"errors"

	"github.com/seantiz/ensemble/internal/model"
	"github.com/seantiz/ensemble/internal/tracker"
)

// ErrInvalidTransition is returned when a realization state change is not allowed.
var ErrInvalidTransition = errors.New("invalid state transition")

// Store defines the persistence operations for journaled realizations and
// tracker snapshots. Rows are keyed by ensemble run ID and realization index.
type Store interface {
	CreateRealization(ctx context.Context, r *model.Realization) error
	GetRealization(ctx context.Context, runID string, iens int) (*model.Realization, error)
	ListRealizations(ctx context.Context, runID string, limit, offset int) ([]*model.Realization, int, error)
	SyncRealization(ctx context.Context, r *model.Realization) error
	InsertSnapshot(ctx context.Context, runID string, snap tracker.Snapshot) error
	LatestSnapshot(ctx context.Context, runID string) (*tracker.Snapshot, error)
	Ping(ctx context.Context) error
	Close() error
}
