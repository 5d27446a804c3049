package model

import (
	"time"
)

// GenerationStatus is the lifecycle state of an original image's
// transformation. Derivatives never carry a status: their existence means
// the original completed.
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// MaxGenerationAttempts caps automatic retries: one initial attempt plus one
// automatic retry. Manual retry resets the counter.
const MaxGenerationAttempts = 2

type Image struct {
	ID          string    `db:"id"`
	UserID      *string   `db:"user_id"` // Nullable: legacy rows are claimed on first write
	BlobKey     string    `db:"blob_key"`
	ContentType string    `db:"content_type"`
	Width       int       `db:"width"`
	Height      int       `db:"height"`
	SizeBytes   int64     `db:"size_bytes"`
	Preview     *string   `db:"preview"` // Tiny inline placeholder string

	IsGenerated     bool    `db:"is_generated"`
	OriginalImageID *string `db:"original_image_id"` // Set only on derivatives

	GenerationStatus   *GenerationStatus `db:"generation_status"` // Originals only
	GenerationError    *string           `db:"generation_error"`
	GenerationAttempts int               `db:"generation_attempts"`
	CreditRefunded     bool              `db:"credit_refunded"`

	SharingEnabled   bool       `db:"sharing_enabled"`
	SharingExpiresAt *time.Time `db:"sharing_expires_at"`

	IsFeatured         bool       `db:"is_featured"`
	FeaturedAt         *time.Time `db:"featured_at"`
	FeatureRequestedAt *time.Time `db:"feature_requested_at"`
	DisabledByAdmin    bool       `db:"disabled_by_admin"`
	DisabledReason     *string    `db:"disabled_reason"`

	CreatedAt time.Time `db:"created_at"`
}

// OwnedBy reports whether userID owns this image. Legacy rows without an
// owner are owned by nobody until claimed.
func (i *Image) OwnedBy(userID string) bool {
	return i.UserID != nil && *i.UserID == userID
}

// Status returns the generation status, defaulting to completed for
// derivatives (which only exist after a successful generation).
func (i *Image) Status() GenerationStatus {
	if i.GenerationStatus == nil {
		return GenerationCompleted
	}
	return *i.GenerationStatus
}

// SharedNow reports whether the image is currently reachable through its
// share link.
func (i *Image) SharedNow(now time.Time) bool {
	if !i.SharingEnabled {
		return false
	}
	if i.SharingExpiresAt != nil && now.After(*i.SharingExpiresAt) {
		return false
	}
	return true
}
