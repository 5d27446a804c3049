package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glimmerapp/glimmer/internal/config"
	"github.com/glimmerapp/glimmer/internal/model"
	"github.com/glimmerapp/glimmer/internal/repository"
	"github.com/glimmerapp/glimmer/internal/storage"
)

// DeleteResult reports how many records a cascade removed.
type DeleteResult struct {
	Total     int `json:"deleted_total"`
	Generated int `json:"deleted_generated"`
}

// ImageService covers everything about image records outside the generation
// workflow: listing, deletion, sharing, featuring, and moderation.
type ImageService struct {
	cfg    *config.Config
	images repository.ImageRepository
	store  storage.Storage
	access *Access
}

func NewImageService(cfg *config.Config, images repository.ImageRepository, store storage.Storage, access *Access) *ImageService {
	return &ImageService{cfg: cfg, images: images, store: store, access: access}
}

func (s *ImageService) ListMine(ctx context.Context, caller *model.User) ([]*model.Image, error) {
	if caller == nil {
		return nil, ErrNotAuthorized
	}

	images, err := s.images.ByUser(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return images, nil
}

func (s *ImageService) Get(ctx context.Context, caller *model.User, id string) (*model.Image, error) {
	img, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !s.access.CanView(img, caller) {
		return nil, ErrNotAuthorized
	}
	return img, nil
}

// Delete removes an image record, its blob, and optionally every derivative
// generated from it. Deleting a record that is already gone is a success
// with zero counts; a generation task still running against the record
// discovers the deletion on its next write and exits without a trace.
//
// Blob deletes are best-effort: a storage failure is logged and the cascade
// keeps going, because a stranded blob is recoverable garbage while a
// half-deleted cascade is user-visible state.
func (s *ImageService) Delete(ctx context.Context, caller *model.User, id string, includeGenerated bool) (DeleteResult, error) {
	var result DeleteResult

	img, err := s.images.ByID(ctx, id)
	if errors.Is(err, repository.ErrImageNotFound) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("failed to load image: %w", err)
	}

	err = s.access.OwnerOrAdmin(ctx, img, caller)
	if err != nil {
		return result, err
	}

	targets := []*model.Image{img}
	if !img.IsGenerated && includeGenerated {
		derivatives, err := s.images.Derivatives(ctx, img.ID)
		if err != nil {
			return result, fmt.Errorf("failed to list derivatives: %w", err)
		}
		targets = append(targets, derivatives...)
	}

	for _, t := range targets {
		if err := s.store.Delete(ctx, t.BlobKey); err != nil {
			slog.Error("failed to delete blob, continuing cascade", "blob_key", t.BlobKey, "error", err)
		}

		deleted, err := s.images.Delete(ctx, t.ID)
		if err != nil {
			return result, fmt.Errorf("failed to delete image record: %w", err)
		}
		if deleted {
			result.Total++
			if t.IsGenerated {
				result.Generated++
			}
		}
	}

	slog.Info("image deleted", "image_id", id, "total", result.Total, "generated", result.Generated)
	return result, nil
}

func (s *ImageService) EnableSharing(ctx context.Context, caller *model.User, id string, expiresAt *time.Time) (*model.Image, error) {
	img, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.access.OwnerOrAdmin(ctx, img, caller)
	if err != nil {
		return nil, err
	}

	if expiresAt != nil && expiresAt.Before(time.Now()) {
		return nil, Invalidf("sharing expiry must be in the future")
	}

	err = s.images.SetSharing(ctx, img.ID, true, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enable sharing: %w", err)
	}
	return s.byID(ctx, id)
}

func (s *ImageService) DisableSharing(ctx context.Context, caller *model.User, id string) (*model.Image, error) {
	img, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.access.OwnerOrAdmin(ctx, img, caller)
	if err != nil {
		return nil, err
	}

	err = s.images.SetSharing(ctx, img.ID, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to disable sharing: %w", err)
	}
	return s.byID(ctx, id)
}

// ResolveShared looks up an image by its public share link. Disabled,
// unshared, and expired images are indistinguishable from missing ones.
func (s *ImageService) ResolveShared(ctx context.Context, id string) (*model.Image, string, error) {
	img, err := s.byID(ctx, id)
	if err != nil {
		return nil, "", err
	}

	if img.DisabledByAdmin || !img.SharedNow(time.Now()) {
		return nil, "", ErrNotFound
	}

	url, err := s.store.SignedURL(img.BlobKey, s.cfg.S3PresignExpiryShared)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign share url: %w", err)
	}
	return img, url, nil
}

// OwnerURL signs a short-lived download URL for the image's blob.
func (s *ImageService) OwnerURL(img *model.Image) (string, error) {
	return s.store.SignedURL(img.BlobKey, s.cfg.S3PresignExpiryOwner)
}

// RequestFeature flags a completed image for gallery review.
func (s *ImageService) RequestFeature(ctx context.Context, caller *model.User, id string) (*model.Image, error) {
	img, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.access.OwnerOrAdmin(ctx, img, caller)
	if err != nil {
		return nil, err
	}

	if img.Status() != model.GenerationCompleted {
		return nil, Invalidf("only completed images can be featured")
	}
	if img.DisabledByAdmin {
		return nil, Invalidf("image is disabled")
	}

	err = s.images.RequestFeature(ctx, img.ID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to request feature: %w", err)
	}
	return s.byID(ctx, id)
}

// SetFeatured approves or removes an image from the public gallery.
// Admin only.
func (s *ImageService) SetFeatured(ctx context.Context, caller *model.User, id string, featured bool) (*model.Image, error) {
	if err := RequireAdmin(caller); err != nil {
		return nil, err
	}

	img, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}

	var at *time.Time
	if featured {
		now := time.Now().UTC()
		at = &now
	}

	err = s.images.SetFeatured(ctx, img.ID, featured, at)
	if err != nil {
		return nil, fmt.Errorf("failed to set featured: %w", err)
	}

	slog.Info("image featured state changed", "image_id", img.ID, "featured", featured, "admin_id", caller.ID)
	return s.byID(ctx, id)
}

// SetDisabled hides or restores an image everywhere public. Admin only.
func (s *ImageService) SetDisabled(ctx context.Context, caller *model.User, id string, disabled bool, reason string) (*model.Image, error) {
	if err := RequireAdmin(caller); err != nil {
		return nil, err
	}

	img, err := s.byID(ctx, id)
	if err != nil {
		return nil, err
	}

	var reasonPtr *string
	if disabled && reason != "" {
		reasonPtr = &reason
	}

	err = s.images.SetDisabled(ctx, img.ID, disabled, reasonPtr)
	if err != nil {
		return nil, fmt.Errorf("failed to set disabled: %w", err)
	}

	slog.Info("image moderation state changed", "image_id", img.ID, "disabled", disabled, "admin_id", caller.ID)
	return s.byID(ctx, id)
}

const (
	galleryDefaultLimit = 24
	galleryMaxLimit     = 100
)

// Gallery returns one page of the public featured listing plus an opaque
// cursor for the next page. An empty cursor means the end.
func (s *ImageService) Gallery(ctx context.Context, cursor string, limit int) ([]*model.Image, string, error) {
	if limit <= 0 {
		limit = galleryDefaultLimit
	}
	if limit > galleryMaxLimit {
		limit = galleryMaxLimit
	}

	var before *repository.GalleryCursor
	if cursor != "" {
		c, err := decodeGalleryCursor(cursor)
		if err != nil {
			return nil, "", Invalidf("malformed cursor")
		}
		before = c
	}

	images, err := s.images.Gallery(ctx, before, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list gallery: %w", err)
	}

	next := ""
	if len(images) > limit {
		images = images[:limit]
		last := images[len(images)-1]
		next = encodeGalleryCursor(last)
	}
	return images, next, nil
}

func (s *ImageService) byID(ctx context.Context, id string) (*model.Image, error) {
	img, err := s.images.ByID(ctx, id)
	if errors.Is(err, repository.ErrImageNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return img, nil
}

func encodeGalleryCursor(img *model.Image) string {
	at := time.Time{}
	if img.FeaturedAt != nil {
		at = *img.FeaturedAt
	}
	raw := at.UTC().Format(time.RFC3339Nano) + "|" + img.ID
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeGalleryCursor(cursor string) (*repository.GalleryCursor, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, errors.New("malformed cursor")
	}

	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, err
	}

	return &repository.GalleryCursor{FeaturedAt: at, ID: parts[1]}, nil
}
