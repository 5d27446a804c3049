package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/glimmerapp/glimmer/internal/config"
	"github.com/glimmerapp/glimmer/internal/dbx"
	"github.com/glimmerapp/glimmer/internal/model"
	"github.com/glimmerapp/glimmer/internal/repository"
	"github.com/glimmerapp/glimmer/internal/storage"
	"github.com/glimmerapp/glimmer/internal/task"
	"github.com/glimmerapp/glimmer/internal/transform"
)

// GenerationService owns the generation workflow: credit-gated submission,
// background transformation, retry and refund bookkeeping.
type GenerationService struct {
	cfg         *config.Config
	db          *sqlx.DB
	images      repository.ImageRepository
	users       repository.UserRepository
	store       storage.Storage
	transformer transform.Transformer
	access      *Access

	scheduler task.Scheduler
}

func NewGenerationService(
	cfg *config.Config,
	db *sqlx.DB,
	images repository.ImageRepository,
	users repository.UserRepository,
	store storage.Storage,
	transformer transform.Transformer,
	access *Access,
) *GenerationService {
	return &GenerationService{
		cfg:         cfg,
		db:          db,
		images:      images,
		users:       users,
		store:       store,
		transformer: transformer,
		access:      access,
	}
}

// SetScheduler wires the worker pool in after construction. The pool's
// processor is this service's Process method, so the two cannot be built in
// one step.
func (s *GenerationService) SetScheduler(sched task.Scheduler) {
	s.scheduler = sched
}

// Submit validates an uploaded blob, reserves one credit, creates the
// pending record, and schedules the transformation. The credit reservation
// and the record insert commit atomically: the enqueue happens only after
// the commit, and a crash in between is covered by the startup requeue
// sweep.
func (s *GenerationService) Submit(ctx context.Context, caller *model.User, blobKey string, preview *string) (*model.Image, error) {
	if caller == nil {
		return nil, ErrNotAuthorized
	}

	data, err := s.store.Load(ctx, blobKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load blob: %w", err)
	}
	if data == nil {
		return nil, Invalidf("uploaded file not found")
	}

	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, Invalidf("file too large: maximum size is %d MB", s.cfg.MaxUploadBytes/(1<<20))
	}

	contentType := http.DetectContentType(data)
	switch contentType {
	case "image/jpeg", "image/png", "image/webp":
	default:
		return nil, Invalidf("unsupported image type: %s", contentType)
	}

	width, height, err := decodeDimensions(data)
	if err != nil {
		return nil, Invalidf("unreadable image data")
	}

	status := model.GenerationPending
	img := &model.Image{
		ID:               uuid.New().String(),
		UserID:           &caller.ID,
		BlobKey:          blobKey,
		ContentType:      contentType,
		Width:            width,
		Height:           height,
		SizeBytes:        int64(len(data)),
		Preview:          preview,
		GenerationStatus: &status,
		CreatedAt:        time.Now().UTC(),
	}

	err = dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		err := s.users.ReserveCredit(ctx, tx, caller.ID)
		if err != nil {
			return err
		}
		return s.images.Create(ctx, tx, img)
	})
	if errors.Is(err, repository.ErrInsufficientCredit) {
		return nil, ErrInsufficientCredits
	}
	if err != nil {
		return nil, fmt.Errorf("failed to submit generation: %w", err)
	}

	s.scheduler.Enqueue(task.Task{
		ImageID:     img.ID,
		BlobKey:     img.BlobKey,
		ContentType: img.ContentType,
	})

	slog.Info("generation submitted", "image_id", img.ID, "user_id", caller.ID)
	return img, nil
}

// Process runs one transformation attempt. It is the worker pool's
// processor and must never return an error into the pool: every outcome is
// absorbed into record state.
//
// The record may be deleted at any point while this runs. Every write
// re-reads or conditionally updates the row first, and a vanished row ends
// the task silently.
func (s *GenerationService) Process(ctx context.Context, t task.Task) {
	img, err := s.images.ByID(ctx, t.ImageID)
	if errors.Is(err, repository.ErrImageNotFound) {
		slog.Info("generation task dropped, record deleted", "image_id", t.ImageID)
		return
	}
	if err != nil {
		slog.Error("generation task failed to load record", "image_id", t.ImageID, "error", err)
		return
	}

	// A stale or duplicate task for a settled record is a no-op.
	if st := img.Status(); st == model.GenerationCompleted || st == model.GenerationFailed {
		return
	}

	ok, err := s.images.SetStatus(ctx, img.ID, model.GenerationProcessing)
	if err != nil {
		slog.Error("generation task failed to mark processing", "image_id", img.ID, "error", err)
		return
	}
	if !ok {
		return
	}

	data, err := s.store.Load(ctx, t.BlobKey)
	if err != nil {
		s.fail(ctx, img, fmt.Errorf("failed to load source blob: %w", err))
		return
	}
	if data == nil {
		slog.Info("generation task dropped, source blob deleted", "image_id", img.ID, "blob_key", t.BlobKey)
		return
	}

	out, err := s.transformer.Transform(ctx, data, t.ContentType)
	if err != nil {
		s.fail(ctx, img, err)
		return
	}

	outType := http.DetectContentType(out)
	width, height, err := decodeDimensions(out)
	if err != nil {
		s.fail(ctx, img, fmt.Errorf("transformation returned unreadable image: %w", err))
		return
	}

	derivedKey := uuid.New().String() + extensionFor(outType)
	err = s.store.Save(ctx, derivedKey, outType, bytes.NewReader(out))
	if err != nil {
		s.fail(ctx, img, fmt.Errorf("failed to store result: %w", err))
		return
	}

	// Re-read before the final writes: a delete that landed during the
	// transformation must win, not be resurrected.
	_, err = s.images.ByID(ctx, img.ID)
	if errors.Is(err, repository.ErrImageNotFound) {
		s.discardBlob(ctx, derivedKey)
		slog.Info("generation result discarded, record deleted", "image_id", img.ID)
		return
	}
	if err != nil {
		s.discardBlob(ctx, derivedKey)
		slog.Error("generation task failed to re-read record", "image_id", img.ID, "error", err)
		return
	}

	derived := &model.Image{
		ID:              uuid.New().String(),
		UserID:          img.UserID,
		BlobKey:         derivedKey,
		ContentType:     outType,
		Width:           width,
		Height:          height,
		SizeBytes:       int64(len(out)),
		IsGenerated:     true,
		OriginalImageID: &img.ID,
		CreatedAt:       time.Now().UTC(),
	}

	err = s.images.Create(ctx, s.db, derived)
	if err != nil {
		s.discardBlob(ctx, derivedKey)
		s.fail(ctx, img, fmt.Errorf("failed to insert derivative: %w", err))
		return
	}

	ok, err = s.images.SetStatus(ctx, img.ID, model.GenerationCompleted)
	if err != nil {
		slog.Error("generation task failed to mark completed", "image_id", img.ID, "error", err)
		return
	}
	if !ok {
		// Source deleted between the re-read and the status write: unwind
		// the derivative so nothing survives the delete.
		if _, err := s.images.Delete(ctx, derived.ID); err != nil {
			slog.Error("failed to unwind orphan derivative", "image_id", derived.ID, "error", err)
		}
		s.discardBlob(ctx, derivedKey)
		return
	}

	slog.Info("generation completed", "image_id", img.ID, "derived_id", derived.ID)
}

// fail records one failed attempt. Within the automatic budget the task is
// re-enqueued; past it the record goes terminal and the reserved credit is
// returned exactly once.
func (s *GenerationService) fail(ctx context.Context, img *model.Image, cause error) {
	// Re-read for current attempt count; the in-memory copy may be stale.
	current, err := s.images.ByID(ctx, img.ID)
	if errors.Is(err, repository.ErrImageNotFound) {
		slog.Info("generation failure dropped, record deleted", "image_id", img.ID)
		return
	}
	if err != nil {
		slog.Error("generation failure could not load record", "image_id", img.ID, "error", err)
		return
	}

	ok, err := s.images.IncrementAttempts(ctx, current.ID)
	if err != nil || !ok {
		slog.Error("generation failure could not record attempt", "image_id", current.ID, "error", err)
		return
	}
	attempts := current.GenerationAttempts + 1

	if attempts < model.MaxGenerationAttempts {
		ok, err := s.images.SetStatus(ctx, current.ID, model.GenerationPending)
		if err != nil || !ok {
			return
		}
		slog.Warn("generation attempt failed, retrying",
			"image_id", current.ID, "attempt", attempts, "error", cause)
		s.scheduler.Enqueue(task.Task{
			ImageID:     current.ID,
			BlobKey:     current.BlobKey,
			ContentType: current.ContentType,
		})
		return
	}

	err = dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		ok, err := s.images.MarkFailed(ctx, tx, current.ID, cause.Error())
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if !s.cfg.RefundOnFailure || current.UserID == nil {
			return nil
		}

		refunded, err := s.images.MarkRefunded(ctx, tx, current.ID)
		if err != nil {
			return err
		}
		if !refunded {
			return nil
		}
		return s.users.AddCredits(ctx, tx, *current.UserID, 1)
	})
	if err != nil {
		slog.Error("generation failure bookkeeping failed", "image_id", current.ID, "error", err)
		return
	}

	slog.Warn("generation failed", "image_id", current.ID, "attempts", attempts, "error", cause)
}

// Retry resets a failed generation and schedules a fresh attempt. No credit
// is charged: the original reservation already paid for this record.
func (s *GenerationService) Retry(ctx context.Context, caller *model.User, imageID string) (*model.Image, error) {
	img, err := s.images.ByID(ctx, imageID)
	if errors.Is(err, repository.ErrImageNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}

	if img.IsGenerated {
		return nil, Invalidf("generated images cannot be retried")
	}

	err = s.access.OwnerOrAdmin(ctx, img, caller)
	if err != nil {
		return nil, err
	}

	ok, err := s.images.ResetForRetry(ctx, img.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reset for retry: %w", err)
	}
	if !ok {
		return nil, Invalidf("only failed generations can be retried")
	}

	s.scheduler.Enqueue(task.Task{
		ImageID:     img.ID,
		BlobKey:     img.BlobKey,
		ContentType: img.ContentType,
	})

	slog.Info("generation retry scheduled", "image_id", img.ID, "user_id", caller.ID)
	return s.images.ByID(ctx, img.ID)
}

// RequeueInFlight re-enqueues every non-terminal generation. Run once at
// startup: it recovers tasks lost to a crash between commit and enqueue, or
// mid-transformation.
func (s *GenerationService) RequeueInFlight(ctx context.Context) error {
	inFlight, err := s.images.InFlight(ctx)
	if err != nil {
		return fmt.Errorf("failed to list in-flight generations: %w", err)
	}

	for _, img := range inFlight {
		if _, err := s.images.SetStatus(ctx, img.ID, model.GenerationPending); err != nil {
			slog.Error("failed to reset in-flight generation", "image_id", img.ID, "error", err)
			continue
		}
		s.scheduler.Enqueue(task.Task{
			ImageID:     img.ID,
			BlobKey:     img.BlobKey,
			ContentType: img.ContentType,
		})
	}

	if len(inFlight) > 0 {
		slog.Info("requeued in-flight generations", "count", len(inFlight))
	}
	return nil
}

func (s *GenerationService) discardBlob(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		slog.Error("failed to delete stray blob", "blob_key", key, "error", err)
	}
}
