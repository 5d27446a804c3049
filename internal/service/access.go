package service

import (
	"context"
	"fmt"

	"github.com/glimmerapp/glimmer/internal/model"
	"github.com/glimmerapp/glimmer/internal/repository"
)

// Access centralizes ownership checks for image mutations.
type Access struct {
	images repository.ImageRepository
}

func NewAccess(images repository.ImageRepository) *Access {
	return &Access{images: images}
}

// OwnerOrAdmin authorizes a mutation of img by caller. Rows without an
// owner predate authentication; the first authenticated writer claims them,
// which is what migrates legacy data without a backfill job.
func (a *Access) OwnerOrAdmin(ctx context.Context, img *model.Image, caller *model.User) error {
	if caller == nil {
		return ErrNotAuthorized
	}

	if img.UserID == nil {
		err := a.images.ClaimOwner(ctx, img.ID, caller.ID)
		if err != nil {
			return fmt.Errorf("failed to claim image owner: %w", err)
		}
		img.UserID = &caller.ID
		return nil
	}

	if img.OwnedBy(caller.ID) || caller.IsAdmin {
		return nil
	}

	return ErrNotAuthorized
}

// CanView authorizes a read of img by caller. Reads never claim ownership.
func (a *Access) CanView(img *model.Image, caller *model.User) bool {
	if caller == nil {
		return false
	}
	return img.UserID == nil || img.OwnedBy(caller.ID) || caller.IsAdmin
}

func RequireAdmin(caller *model.User) error {
	if caller == nil || !caller.IsAdmin {
		return ErrNotAuthorized
	}
	return nil
}
