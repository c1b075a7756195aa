package ops

import (
	"context"

	"github.com/hpungsan/logsift/internal/store"
)

// SnapshotInput contains parameters for the Snapshot operation.
type SnapshotInput struct {
	Origin string
}

// RotateInput contains parameters for the Rotate operation.
type RotateInput struct {
	Origin string
}

// QueuedOutput reports a command accepted by the store engine. The file it
// produces is announced later on the notification channel.
type QueuedOutput struct {
	Origin string `json:"origin"`
	Action string `json:"action"`
	Status string `json:"status"`
}

// Snapshot queues a copy of the origin's live database.
func Snapshot(ctx context.Context, eng *store.Engine, input SnapshotInput) (*QueuedOutput, error) {
	origin, err := ValidateOrigin(input.Origin)
	if err != nil {
		return nil, err
	}
	if err := eng.RequestSnapshot(ctx, origin); err != nil {
		return nil, err
	}
	return &QueuedOutput{Origin: origin, Action: "snapshot", Status: StatusQueued}, nil
}

// Rotate queues an archive of the origin's database.
func Rotate(ctx context.Context, eng *store.Engine, input RotateInput) (*QueuedOutput, error) {
	origin, err := ValidateOrigin(input.Origin)
	if err != nil {
		return nil, err
	}
	if err := eng.RequestRotate(ctx, origin); err != nil {
		return nil, err
	}
	return &QueuedOutput{Origin: origin, Action: "rotate", Status: StatusQueued}, nil
}
