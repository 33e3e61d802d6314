package repository

import (
	"context"

	"mediahub/internal/domain"
)

// FileRepository exposes persistence operations for File rows.
type FileRepository interface {
	Create(ctx context.Context, file *domain.File) (int64, error)
	Get(ctx context.Context, id int64) (*domain.File, error)
	GetForUser(ctx context.Context, userID, id int64) (*domain.File, error)
	List(ctx context.Context, query domain.FileListQuery) ([]domain.File, int, error)
	// TransitionStatus moves the file to status when its current status is one
	// of from. An empty from matches any status. It reports whether a row changed.
	TransitionStatus(ctx context.Context, id int64, status domain.FileStatus, from ...domain.FileStatus) (bool, error)
	// Complete stores the description and marks the file successful, provided
	// it is still processing.
	Complete(ctx context.Context, id int64, description string) (bool, error)
	// DeleteFinished removes the file if it is owned by userID and not in an
	// active processing state.
	DeleteFinished(ctx context.Context, userID, id int64) (bool, error)
}
