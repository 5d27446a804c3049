package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/glimmerapp/glimmer/internal/dbx"
	"github.com/glimmerapp/glimmer/internal/model"
)

var (
	ErrImageNotFound = errors.New("image not found")
)

type ImageRepository interface {
	Create(ctx context.Context, q dbx.DBTX, img *model.Image) error
	ByID(ctx context.Context, id string) (*model.Image, error)
	ByUser(ctx context.Context, userID string) ([]*model.Image, error)
	Derivatives(ctx context.Context, originalID string) ([]*model.Image, error)
	InFlight(ctx context.Context) ([]*model.Image, error)
	Delete(ctx context.Context, id string) (bool, error)

	SetStatus(ctx context.Context, id string, status model.GenerationStatus) (bool, error)
	MarkFailed(ctx context.Context, q dbx.DBTX, id string, reason string) (bool, error)
	IncrementAttempts(ctx context.Context, id string) (bool, error)
	MarkRefunded(ctx context.Context, q dbx.DBTX, id string) (bool, error)
	ResetForRetry(ctx context.Context, id string) (bool, error)
	ClaimOwner(ctx context.Context, id, userID string) error

	SetSharing(ctx context.Context, id string, enabled bool, expiresAt *time.Time) error
	RequestFeature(ctx context.Context, id string, at time.Time) error
	SetFeatured(ctx context.Context, id string, featured bool, at *time.Time) error
	SetDisabled(ctx context.Context, id string, disabled bool, reason *string) error

	Gallery(ctx context.Context, before *GalleryCursor, limit int) ([]*model.Image, error)
}

// GalleryCursor is a keyset position in the featured listing, ordered by
// (featured_at DESC, id DESC).
type GalleryCursor struct {
	FeaturedAt time.Time
	ID         string
}

type imageRepository struct {
	db *sqlx.DB
}

func NewImageRepository(db *sqlx.DB) ImageRepository {
	return &imageRepository{db: db}
}

func (r *imageRepository) Create(ctx context.Context, q dbx.DBTX, img *model.Image) error {
	query := `INSERT INTO images (
	              id, user_id, blob_key, content_type, width, height, size_bytes, preview,
	              is_generated, original_image_id,
	              generation_status, generation_error, generation_attempts, credit_refunded,
	              sharing_enabled, sharing_expires_at,
	              is_featured, featured_at, feature_requested_at, disabled_by_admin, disabled_reason,
	              created_at
	          ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err := q.ExecContext(ctx, query,
		img.ID,
		img.UserID,
		img.BlobKey,
		img.ContentType,
		img.Width,
		img.Height,
		img.SizeBytes,
		img.Preview,
		img.IsGenerated,
		img.OriginalImageID,
		img.GenerationStatus,
		img.GenerationError,
		img.GenerationAttempts,
		img.CreditRefunded,
		img.SharingEnabled,
		img.SharingExpiresAt,
		img.IsFeatured,
		img.FeaturedAt,
		img.FeatureRequestedAt,
		img.DisabledByAdmin,
		img.DisabledReason,
		img.CreatedAt,
	)

	return err
}

func (r *imageRepository) ByID(ctx context.Context, id string) (*model.Image, error) {
	img := &model.Image{}
	query := `SELECT * FROM images WHERE id = $1`

	err := r.db.GetContext(ctx, img, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, err
	}

	return img, nil
}

func (r *imageRepository) ByUser(ctx context.Context, userID string) ([]*model.Image, error) {
	var images []*model.Image
	query := `SELECT * FROM images WHERE user_id = $1 ORDER BY created_at DESC`

	err := r.db.SelectContext(ctx, &images, query, userID)
	if err != nil {
		return nil, err
	}

	return images, nil
}

func (r *imageRepository) Derivatives(ctx context.Context, originalID string) ([]*model.Image, error) {
	var images []*model.Image
	query := `SELECT * FROM images WHERE original_image_id = $1`

	err := r.db.SelectContext(ctx, &images, query, originalID)
	if err != nil {
		return nil, err
	}

	return images, nil
}

// InFlight returns originals whose generation has not reached a terminal
// state. Used by the startup sweep that re-enqueues work lost to a crash
// between commit and enqueue.
func (r *imageRepository) InFlight(ctx context.Context) ([]*model.Image, error) {
	var images []*model.Image
	query := `SELECT * FROM images WHERE generation_status IN ($1, $2)`

	err := r.db.SelectContext(ctx, &images, query, model.GenerationPending, model.GenerationProcessing)
	if err != nil {
		return nil, err
	}

	return images, nil
}

func (r *imageRepository) Delete(ctx context.Context, id string) (bool, error) {
	query := `DELETE FROM images WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	return rowsAffected(res), nil
}

// SetStatus updates the generation status. Returns false when the row no
// longer exists, which is how the deferred task detects a concurrent delete.
func (r *imageRepository) SetStatus(ctx context.Context, id string, status model.GenerationStatus) (bool, error) {
	query := `UPDATE images SET generation_status = $2 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return false, err
	}
	return rowsAffected(res), nil
}

func (r *imageRepository) MarkFailed(ctx context.Context, q dbx.DBTX, id string, reason string) (bool, error) {
	query := `UPDATE images SET generation_status = $2, generation_error = $3 WHERE id = $1`

	res, err := q.ExecContext(ctx, query, id, model.GenerationFailed, reason)
	if err != nil {
		return false, err
	}
	return rowsAffected(res), nil
}

func (r *imageRepository) IncrementAttempts(ctx context.Context, id string) (bool, error) {
	query := `UPDATE images SET generation_attempts = generation_attempts + 1 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	return rowsAffected(res), nil
}

// MarkRefunded flips the refund flag. The WHERE clause makes the flip
// first-writer-wins: a second failure event for the same record reports
// false and must not touch the balance.
func (r *imageRepository) MarkRefunded(ctx context.Context, q dbx.DBTX, id string) (bool, error) {
	query := `UPDATE images SET credit_refunded = TRUE WHERE id = $1 AND credit_refunded = FALSE`

	res, err := q.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	return rowsAffected(res), nil
}

// ResetForRetry gives a failed original a fresh attempt budget. Only rows
// currently failed are eligible. credit_refunded is left untouched: a retry
// never re-charges, so a refund already issued must stay issued.
func (r *imageRepository) ResetForRetry(ctx context.Context, id string) (bool, error) {
	query := `UPDATE images
	          SET generation_status = $2, generation_error = NULL, generation_attempts = 0
	          WHERE id = $1 AND generation_status = $3`

	res, err := r.db.ExecContext(ctx, query, id, model.GenerationPending, model.GenerationFailed)
	if err != nil {
		return false, err
	}
	return rowsAffected(res), nil
}

// ClaimOwner backfills user_id on a legacy row. The IS NULL guard keeps the
// claim one-time.
func (r *imageRepository) ClaimOwner(ctx context.Context, id, userID string) error {
	query := `UPDATE images SET user_id = $2 WHERE id = $1 AND user_id IS NULL`

	_, err := r.db.ExecContext(ctx, query, id, userID)
	return err
}

func (r *imageRepository) SetSharing(ctx context.Context, id string, enabled bool, expiresAt *time.Time) error {
	query := `UPDATE images SET sharing_enabled = $2, sharing_expires_at = $3 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, enabled, expiresAt)
	return err
}

func (r *imageRepository) RequestFeature(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE images SET feature_requested_at = $2 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, at)
	return err
}

func (r *imageRepository) SetFeatured(ctx context.Context, id string, featured bool, at *time.Time) error {
	query := `UPDATE images SET is_featured = $2, featured_at = $3, feature_requested_at = NULL WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, featured, at)
	return err
}

func (r *imageRepository) SetDisabled(ctx context.Context, id string, disabled bool, reason *string) error {
	query := `UPDATE images SET disabled_by_admin = $2, disabled_reason = $3 WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, disabled, reason)
	return err
}

// Gallery returns a page of the public featured listing using keyset
// pagination on (featured_at, id) descending.
func (r *imageRepository) Gallery(ctx context.Context, before *GalleryCursor, limit int) ([]*model.Image, error) {
	var images []*model.Image

	if before == nil {
		query := `SELECT * FROM images
		          WHERE is_featured = TRUE AND disabled_by_admin = FALSE
		          ORDER BY featured_at DESC, id DESC
		          LIMIT $1`
		err := r.db.SelectContext(ctx, &images, query, limit)
		if err != nil {
			return nil, err
		}
		return images, nil
	}

	query := `SELECT * FROM images
	          WHERE is_featured = TRUE AND disabled_by_admin = FALSE
	            AND (featured_at < $1 OR (featured_at = $1 AND id < $2))
	          ORDER BY featured_at DESC, id DESC
	          LIMIT $3`
	err := r.db.SelectContext(ctx, &images, query, before.FeaturedAt, before.ID, limit)
	if err != nil {
		return nil, err
	}
	return images, nil
}

func rowsAffected(res sql.Result) bool {
	n, err := res.RowsAffected()
	if err != nil {
		return false
	}
	return n > 0
}
