package handler

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glimmerapp/glimmer/internal/ctxkeys"
	"github.com/glimmerapp/glimmer/internal/model"
	"github.com/glimmerapp/glimmer/internal/service"
	"github.com/glimmerapp/glimmer/internal/storage"
	"github.com/glimmerapp/glimmer/internal/validation"
)

type ImageHandler struct {
	imageService      *service.ImageService
	generationService *service.GenerationService
	store             storage.Storage
	maxUploadBytes    int64
}

func NewImageHandler(imageService *service.ImageService, generationService *service.GenerationService, store storage.Storage, maxUploadBytes int64) *ImageHandler {
	return &ImageHandler{
		imageService:      imageService,
		generationService: generationService,
		store:             store,
		maxUploadBytes:    maxUploadBytes,
	}
}

// imageResponse is the wire shape of an image record. URLs are signed per
// request and never stored.
type imageResponse struct {
	ID                 string     `json:"id"`
	URL                string     `json:"url,omitempty"`
	Preview            *string    `json:"preview,omitempty"`
	ContentType        string     `json:"content_type"`
	Width              int        `json:"width"`
	Height             int        `json:"height"`
	SizeBytes          int64      `json:"size_bytes"`
	IsGenerated        bool       `json:"is_generated"`
	OriginalImageID    *string    `json:"original_image_id,omitempty"`
	GenerationStatus   string     `json:"generation_status"`
	GenerationError    *string    `json:"generation_error,omitempty"`
	GenerationAttempts int        `json:"generation_attempts"`
	SharingEnabled     bool       `json:"sharing_enabled"`
	SharingExpiresAt   *time.Time `json:"sharing_expires_at,omitempty"`
	IsFeatured         bool       `json:"is_featured"`
	DisabledByAdmin    bool       `json:"disabled_by_admin"`
	CreatedAt          time.Time  `json:"created_at"`
}

func (h *ImageHandler) toResponse(img *model.Image, withURL bool) imageResponse {
	resp := imageResponse{
		ID:                 img.ID,
		Preview:            img.Preview,
		ContentType:        img.ContentType,
		Width:              img.Width,
		Height:             img.Height,
		SizeBytes:          img.SizeBytes,
		IsGenerated:        img.IsGenerated,
		OriginalImageID:    img.OriginalImageID,
		GenerationStatus:   string(img.Status()),
		GenerationError:    img.GenerationError,
		GenerationAttempts: img.GenerationAttempts,
		SharingEnabled:     img.SharingEnabled,
		SharingExpiresAt:   img.SharingExpiresAt,
		IsFeatured:         img.IsFeatured,
		DisabledByAdmin:    img.DisabledByAdmin,
		CreatedAt:          img.CreatedAt,
	}

	if withURL {
		url, err := h.imageService.OwnerURL(img)
		if err != nil {
			slog.Error("failed to sign image url", "image_id", img.ID, "error", err)
		} else {
			resp.URL = url
		}
	}
	return resp
}

// Upload accepts a multipart image, stores the blob, and submits it for
// generation. The credit is reserved inside the submit; a validation
// failure costs nothing.
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	err := r.ParseMultipartForm(h.maxUploadBytes)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	err = validation.ValidateFile(header, validation.ImageConstraints.WithMaxSize(h.maxUploadBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}

	blobKey := fmt.Sprintf("uploads/%s%s", uuid.New().String(), strings.ToLower(filepath.Ext(header.Filename)))
	contentType := http.DetectContentType(data)

	err = h.store.Save(r.Context(), blobKey, contentType, bytes.NewReader(data))
	if err != nil {
		slog.Error("failed to store upload", "user_id", user.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}

	var preview *string
	if p := r.FormValue("preview"); p != "" {
		preview = &p
	}

	img, err := h.generationService.Submit(r.Context(), user, blobKey, preview)
	if err != nil {
		// The blob is orphaned on a failed submit; clean it up so a
		// rejected upload leaves nothing behind.
		if delErr := h.store.Delete(r.Context(), blobKey); delErr != nil {
			slog.Error("failed to clean up rejected upload", "blob_key", blobKey, "error", delErr)
		}
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, h.toResponse(img, true))
}

func (h *ImageHandler) List(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	images, err := h.imageService.ListMine(r.Context(), user)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := make([]imageResponse, 0, len(images))
	for _, img := range images {
		resp = append(resp, h.toResponse(img, false))
	}
	respondJSON(w, http.StatusOK, map[string]any{"images": resp})
}

func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	img, err := h.imageService.Get(r.Context(), user, r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.toResponse(img, true))
}

func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	includeGenerated := true
	if v := r.URL.Query().Get("include_generated"); v == "false" {
		includeGenerated = false
	}

	result, err := h.imageService.Delete(r.Context(), user, r.PathValue("id"), includeGenerated)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *ImageHandler) Retry(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	img, err := h.generationService.Retry(r.Context(), user, r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, h.toResponse(img, false))
}

func (h *ImageHandler) EnableSharing(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	var req struct {
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	img, err := h.imageService.EnableSharing(r.Context(), user, r.PathValue("id"), req.ExpiresAt)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.toResponse(img, false))
}

func (h *ImageHandler) DisableSharing(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	img, err := h.imageService.DisableSharing(r.Context(), user, r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.toResponse(img, false))
}

func (h *ImageHandler) RequestFeature(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	img, err := h.imageService.RequestFeature(r.Context(), user, r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.toResponse(img, false))
}
