package storage

import (
	"context"
	"errors"

	"highorder/internal/model"
)

var (
	ErrNotInitialized = errors.New("store is not initialized")
	ErrCheckpointID   = errors.New("checkpoint id is required")
)

// Store persists layer checkpoints.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (model.Checkpoint, bool, error)
	// ListCheckpoints returns summaries newest first.
	ListCheckpoints(ctx context.Context) ([]model.CheckpointSummary, error)
	DeleteCheckpoint(ctx context.Context, id string) error
}

func validateCheckpoint(c model.Checkpoint) error {
	if c.ID == "" {
		return ErrCheckpointID
	}
	return checkVersion(c.VersionedRecord)
}
