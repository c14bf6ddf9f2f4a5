package api

import (
	"net/http"
	"strings"

	"github.com/geethx/workshop/internal/apperr"
	"github.com/geethx/workshop/internal/imaging"
	"github.com/geethx/workshop/internal/inventory"
	"github.com/geethx/workshop/internal/model"
)

// ItemsHandler handles catalog endpoints.
type ItemsHandler struct {
	Inventory *inventory.Service
}

func itemFilter(r *http.Request) model.ItemFilter {
	q := r.URL.Query()
	return model.ItemFilter{
		Status:   q.Get("status"),
		Category: q.Get("category"),
		Search:   q.Get("search"),
	}
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.Inventory.ListItems(r.Context(), CurrentUser(r.Context()), itemFilter(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"items": items})
}

// CheckedOut handles GET /api/items/checked-out.
func (h *ItemsHandler) CheckedOut(w http.ResponseWriter, r *http.Request) {
	items, err := h.Inventory.CheckedOut(r.Context(), CurrentUser(r.Context()), itemFilter(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"items": items})
}

// Stats handles GET /api/items/stats.
func (h *ItemsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Inventory.Dashboard(r.Context(), CurrentUser(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"stats": stats})
}

// GetByCode handles GET /api/items/code/{code}.
func (h *ItemsHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	item, err := h.Inventory.GetItemByCode(r.Context(), CurrentUser(r.Context()), r.PathValue("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"item": item})
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.Inventory.GetItem(r.Context(), CurrentUser(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"item": item})
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req inventory.CreateItemInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.Inventory.CreateItem(r.Context(), CurrentUser(r.Context()), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, map[string]any{"item": item})
}

// Update handles PUT /api/items/{id}.
func (h *ItemsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req inventory.UpdateItemInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	item, err := h.Inventory.UpdateItem(r.Context(), CurrentUser(r.Context()), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"item": item})
}

// Delete handles DELETE /api/items/{id}.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Inventory.DeleteItem(r.Context(), CurrentUser(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{})
}

// UploadImage handles PUT /api/images/{id}. The photo is sent either as
// the raw request body or as the "image" field of a multipart form.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+1<<10)
	body := r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
			writeError(w, r, apperr.Validation("image", "format", "file too large or invalid multipart form"))
			return
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			writeError(w, r, apperr.Validation("image", "required", "image file required"))
			return
		}
		defer file.Close()
		body = file
	}

	item, err := h.Inventory.SetImage(r.Context(), CurrentUser(r.Context()), id, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"item": item})
}

// GetImage handles GET /api/images/{id}.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, mime, err := h.Inventory.Image(r.Context(), CurrentUser(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}
