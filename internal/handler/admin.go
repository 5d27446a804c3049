package handler

import (
	"net/http"

	"github.com/glimmerapp/glimmer/internal/ctxkeys"
	"github.com/glimmerapp/glimmer/internal/service"
)

// AdminHandler covers gallery curation and moderation. Routes are mounted
// behind RequireAdmin; the services re-check the caller anyway.
type AdminHandler struct {
	imageService *service.ImageService
}

func NewAdminHandler(imageService *service.ImageService) *AdminHandler {
	return &AdminHandler{imageService: imageService}
}

func (h *AdminHandler) Feature(w http.ResponseWriter, r *http.Request) {
	h.setFeatured(w, r, true)
}

func (h *AdminHandler) Unfeature(w http.ResponseWriter, r *http.Request) {
	h.setFeatured(w, r, false)
}

func (h *AdminHandler) setFeatured(w http.ResponseWriter, r *http.Request, featured bool) {
	user := ctxkeys.User(r.Context())

	img, err := h.imageService.SetFeatured(r.Context(), user, r.PathValue("id"), featured)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":          img.ID,
		"is_featured": img.IsFeatured,
	})
}

func (h *AdminHandler) Disable(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	img, err := h.imageService.SetDisabled(r.Context(), user, r.PathValue("id"), true, req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":                img.ID,
		"disabled_by_admin": img.DisabledByAdmin,
	})
}

func (h *AdminHandler) Enable(w http.ResponseWriter, r *http.Request) {
	user := ctxkeys.User(r.Context())

	img, err := h.imageService.SetDisabled(r.Context(), user, r.PathValue("id"), false, "")
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":                img.ID,
		"disabled_by_admin": img.DisabledByAdmin,
	})
}
