package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimmerapp/glimmer/internal/model"
)

func TestDelete_CascadeRemovesDerivatives(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, "alice")

	img := e.submit(t, user)
	e.drain(t)

	result, err := e.imageSvc.Delete(context.Background(), user, img.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Generated)

	_, err = e.images.ByID(context.Background(), img.ID)
	assert.Error(t, err)
	derivatives, err := e.images.Derivatives(context.Background(), img.ID)
	require.NoError(t, err)
	assert.Empty(t, derivatives)
	assert.Equal(t, 0, e.store.count())
}

func TestDelete_MissingRecordIsSuccess(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, "alice")

	result, err := e.imageSvc.Delete(context.Background(), user, uuid.New().String(), true)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.Equal(t, 0, result.Generated)
}

func TestDelete_KeepGenerated(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, "alice")

	img := e.submit(t, user)
	e.drain(t)

	result, err := e.imageSvc.Delete(context.Background(), user, img.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 0, result.Generated)

	derivatives, err := e.images.Derivatives(context.Background(), img.ID)
	require.NoError(t, err)
	assert.Len(t, derivatives, 1)
}

func TestDelete_NotOwner(t *testing.T) {
	e := newEnv(t)
	alice := e.newUser(t, "alice")
	bob := e.newUser(t, "bob")

	img := e.submit(t, alice)

	_, err := e.imageSvc.Delete(context.Background(), bob, img.ID, true)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = e.images.ByID(context.Background(), img.ID)
	assert.NoError(t, err)
}

func TestDelete_AdminCanDeleteAnyImage(t *testing.T) {
	e := newEnv(t)
	alice := e.newUser(t, "alice")
	admin := e.newAdmin(t, "root")

	img := e.submit(t, alice)

	result, err := e.imageSvc.Delete(context.Background(), admin, img.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
}

func TestLegacyRow_ClaimedOnFirstWrite(t *testing.T) {
	e := newEnv(t)
	alice := e.newUser(t, "alice")
	bob := e.newUser(t, "bob")

	legacy := e.insertLegacyImage(t)

	// First authenticated writer becomes the owner
	_, err := e.imageSvc.EnableSharing(context.Background(), alice, legacy.ID, nil)
	require.NoError(t, err)

	after, err := e.images.ByID(context.Background(), legacy.ID)
	require.NoError(t, err)
	require.NotNil(t, after.UserID)
	assert.Equal(t, alice.ID, *after.UserID)

	// Once claimed, other users are locked out
	_, err = e.imageSvc.DisableSharing(context.Background(), bob, legacy.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestSharing_EnableAndResolve(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, "alice")

	img := e.submit(t, user)
	e.drain(t)

	shared, err := e.imageSvc.EnableSharing(context.Background(), user, img.ID, nil)
	require.NoError(t, err)
	assert.True(t, shared.SharingEnabled)

	resolved, url, err := e.imageSvc.ResolveShared(context.Background(), img.ID)
	require.NoError(t, err)
	assert.Equal(t, img.ID, resolved.ID)
	assert.Contains(t, url, img.BlobKey)
}

func TestSharing_ExpiredLinkIsNotFound(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, "alice")

	img := e.submit(t, user)

	future := time.Now().Add(time.Hour)
	_, err := e.imageSvc.EnableSharing(context.Background(), user, img.ID, &future)
	require.NoError(t, err)

	_, _, err = e.imageSvc.ResolveShared(context.Background(), img.ID)
	require.NoError(t, err)

	// Move the expiry into the past
	past := time.Now().Add(-time.Minute)
	_, errExec := e.db.Exec(`UPDATE images SET sharing_expires_at = $2 WHERE id = $1`, img.ID, past)
	require.NoError(t, errExec)

	_, _, err = e.imageSvc.ResolveShared(context.Background(), img.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSharing_PastExpiryRejected(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, "alice")

	img := e.submit(t, user)

	past := time.Now().Add(-time.Minute)
	_, err := e.imageSvc.EnableSharing(context.Background(), user, img.ID, &past)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSharing_DisabledImageUnreachable(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, "alice")
	admin := e.newAdmin(t, "root")

	img := e.submit(t, user)
	e.drain(t)

	_, err := e.imageSvc.EnableSharing(context.Background(), user, img.ID, nil)
	require.NoError(t, err)

	_, err = e.imageSvc.SetDisabled(context.Background(), admin, img.ID, true, "policy violation")
	require.NoError(t, err)

	_, _, err = e.imageSvc.ResolveShared(context.Background(), img.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Re-enabling restores the link
	_, err = e.imageSvc.SetDisabled(context.Background(), admin, img.ID, false, "")
	require.NoError(t, err)
	_, _, err = e.imageSvc.ResolveShared(context.Background(), img.ID)
	assert.NoError(t, err)
}

func TestFeature_RequestRequiresCompleted(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, "alice")

	img := e.submit(t, user)

	_, err := e.imageSvc.RequestFeature(context.Background(), user, img.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)

	e.drain(t)

	requested, err := e.imageSvc.RequestFeature(context.Background(), user, img.ID)
	require.NoError(t, err)
	assert.NotNil(t, requested.FeatureRequestedAt)
}

func TestFeature_AdminOnly(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, "alice")

	img := e.submit(t, user)
	e.drain(t)

	_, err := e.imageSvc.SetFeatured(context.Background(), user, img.ID, true)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = e.imageSvc.SetDisabled(context.Background(), user, img.ID, true, "")
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestFeature_ApproveClearsRequest(t *testing.T) {
	e := newEnv(t)
	user := e.newUser(t, "alice")
	admin := e.newAdmin(t, "root")

	img := e.submit(t, user)
	e.drain(t)

	_, err := e.imageSvc.RequestFeature(context.Background(), user, img.ID)
	require.NoError(t, err)

	featured, err := e.imageSvc.SetFeatured(context.Background(), admin, img.ID, true)
	require.NoError(t, err)
	assert.True(t, featured.IsFeatured)
	assert.NotNil(t, featured.FeaturedAt)
	assert.Nil(t, featured.FeatureRequestedAt)
}

func TestGallery_KeysetPagination(t *testing.T) {
	e := newEnv(t)
	admin := e.newAdmin(t, "root")
	e.setCredits(t, admin.ID, 100)

	base := time.Now().Add(-time.Hour).UTC()
	var featured []string
	for i := 0; i < 7; i++ {
		img := e.submit(t, admin)
		e.drain(t)
		_, err := e.imageSvc.SetFeatured(context.Background(), admin, img.ID, true)
		require.NoError(t, err)
		// Deterministic ordering
		_, err = e.db.Exec(`UPDATE images SET featured_at = $2 WHERE id = $1`,
			img.ID, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		featured = append(featured, img.ID)
	}

	// Hide one mid-stream to check the disabled filter
	_, err := e.imageSvc.SetDisabled(context.Background(), admin, featured[3], true, "")
	require.NoError(t, err)

	var seen []string
	cursor := ""
	for {
		page, next, err := e.imageSvc.Gallery(context.Background(), cursor, 2)
		require.NoError(t, err)
		for _, img := range page {
			seen = append(seen, img.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	// Newest first, no duplicates, no gaps, disabled excluded
	want := []string{featured[6], featured[5], featured[4], featured[2], featured[1], featured[0]}
	assert.Equal(t, want, seen)
}

func TestGallery_LimitClampedToCap(t *testing.T) {
	e := newEnv(t)

	base := time.Now().Add(-time.Hour).UTC()
	for i := 0; i < 30; i++ {
		img := e.insertLegacyImage(t)
		_, err := e.db.Exec(`UPDATE images SET is_featured = TRUE, featured_at = $2 WHERE id = $1`,
			img.ID, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	// An oversized limit clamps to the cap instead of falling back to the
	// default page size.
	page, _, err := e.imageSvc.Gallery(context.Background(), "", 150)
	require.NoError(t, err)
	assert.Len(t, page, 30)

	// Zero still means the default
	page, next, err := e.imageSvc.Gallery(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, page, 24)
	assert.NotEmpty(t, next)
}

func TestGallery_MalformedCursor(t *testing.T) {
	e := newEnv(t)

	_, _, err := e.imageSvc.Gallery(context.Background(), "not-base64!!", 10)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGet_OwnerAndAdminOnly(t *testing.T) {
	e := newEnv(t)
	alice := e.newUser(t, "alice")
	bob := e.newUser(t, "bob")
	admin := e.newAdmin(t, "root")

	img := e.submit(t, alice)

	_, err := e.imageSvc.Get(context.Background(), alice, img.ID)
	assert.NoError(t, err)
	_, err = e.imageSvc.Get(context.Background(), admin, img.ID)
	assert.NoError(t, err)
	_, err = e.imageSvc.Get(context.Background(), bob, img.ID)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

// insertLegacyImage creates a completed row without an owner, the shape of
// data from before authentication existed.
func (e *env) insertLegacyImage(t *testing.T) *model.Image {
	t.Helper()

	status := model.GenerationCompleted
	img := &model.Image{
		ID:               uuid.New().String(),
		BlobKey:          fmt.Sprintf("uploads/legacy-%s.png", uuid.New().String()[:8]),
		ContentType:      "image/png",
		Width:            4,
		Height:           4,
		SizeBytes:        128,
		GenerationStatus: &status,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, e.images.Create(context.Background(), e.db, img))
	e.putBlob(t, img.BlobKey, pngBytes(4, 4))
	return img
}
