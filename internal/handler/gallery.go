package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/glimmerapp/glimmer/internal/service"
)

// GalleryHandler serves the public surfaces: the featured gallery and share
// links. No authentication, no owner data in responses.
type GalleryHandler struct {
	imageService *service.ImageService
}

func NewGalleryHandler(imageService *service.ImageService) *GalleryHandler {
	return &GalleryHandler{imageService: imageService}
}

type galleryItem struct {
	ID          string    `json:"id"`
	Preview     *string   `json:"preview,omitempty"`
	ContentType string    `json:"content_type"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	FeaturedAt  time.Time `json:"featured_at"`
}

func (h *GalleryHandler) Gallery(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cursor := r.URL.Query().Get("cursor")

	images, next, err := h.imageService.Gallery(r.Context(), cursor, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	items := make([]galleryItem, 0, len(images))
	for _, img := range images {
		item := galleryItem{
			ID:          img.ID,
			Preview:     img.Preview,
			ContentType: img.ContentType,
			Width:       img.Width,
			Height:      img.Height,
		}
		if img.FeaturedAt != nil {
			item.FeaturedAt = *img.FeaturedAt
		}
		items = append(items, item)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"images":      items,
		"next_cursor": next,
	})
}

func (h *GalleryHandler) Shared(w http.ResponseWriter, r *http.Request) {
	img, url, err := h.imageService.ResolveShared(r.Context(), r.PathValue("id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":           img.ID,
		"url":          url,
		"preview":      img.Preview,
		"content_type": img.ContentType,
		"width":        img.Width,
		"height":       img.Height,
	})
}
